package loans

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/httpx"
)

type Handler struct{ svc *Service }

// RegisterRoutes: r は RequireAuth 済みのグループ。
// member は自分の貸出だけ扱える。削除は admin のみ（在庫は戻さない管理操作）
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/loans", h.Checkout)
	r.GET("/loans", h.List)
	r.GET("/loans/:key", h.Get)
	r.PUT("/loans/:key/return", h.Return)
	r.DELETE("/loans/:key", auth.RequireRole(auth.RoleAdmin), h.Delete)

	r.GET("/users/:id/loans", auth.RequireSelfOrRole("id", auth.RoleAdmin), h.ListByUser)
}

type caller struct {
	userID int64
	admin  bool
}

// owns: admin は全件、それ以外は自分の user_id のみ
func (a caller) owns(userID int64) bool { return a.admin || a.userID == userID }

func currentCaller(c *gin.Context) (caller, bool) {
	uid, ok := auth.CurrentUserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apierr.Body(apierr.CodeUnauthenticated, "unauthenticated"))
		return caller{}, false
	}
	return caller{userID: uid, admin: c.GetString(auth.CtxRoleKey) == auth.RoleAdmin}, true
}

func forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, apierr.Body(apierr.CodeForbidden, "not your loan"))
}

// ---------- handlers ----------

func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json"))
		return
	}
	who, ok := currentCaller(c)
	if !ok {
		return
	}
	// user_id 省略時は自分
	if req.UserID == 0 {
		req.UserID = who.userID
	}
	if !who.owns(req.UserID) {
		forbidden(c)
		return
	}
	res, err := h.svc.Checkout(c.Request.Context(), req)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.Header("Location", "/api/v1/loans/"+strconv.FormatInt(res.ID, 10))
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Get(c *gin.Context) {
	who, ok := currentCaller(c)
	if !ok {
		return
	}
	res, err := h.svc.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if !who.owns(res.User.ID) {
		forbidden(c)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Return(c *gin.Context) {
	id, ok := parseID(c, "key")
	if !ok {
		return
	}
	who, ok := currentCaller(c)
	if !ok {
		return
	}
	if !who.admin {
		// 借り手は変わらないので事前に読んで確認すればよい
		cur, err := h.svc.Get(c.Request.Context(), strconv.FormatInt(id, 10))
		if err != nil {
			apierr.Write(c, err)
			return
		}
		if !who.owns(cur.User.ID) {
			forbidden(c)
			return
		}
	}
	res, err := h.svc.Return(c.Request.Context(), id)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c, "key")
	if !ok {
		return
	}
	res, err := h.svc.Delete(c.Request.Context(), id)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) List(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	who, ok := currentCaller(c)
	if !ok {
		return
	}
	if !who.admin {
		if f.UserID != nil && *f.UserID != who.userID {
			forbidden(c)
			return
		}
		f.UserID = &who.userID
	}
	h.list(c, f)
}

func (h *Handler) ListByUser(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	f.UserID = &id
	h.list(c, f)
}

func (h *Handler) list(c *gin.Context, f Filter) {
	p := Page{
		Limit:  httpx.ParseIntDefault(c.Query("limit"), 50),
		Offset: httpx.ParseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}
	res, err := h.svc.List(c.Request.Context(), f, p)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- helpers ----------

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid "+name))
		return 0, false
	}
	return id, true
}

func parseFilter(c *gin.Context) (Filter, bool) {
	f := Filter{Status: c.Query("status")}
	bad := func(field string) (Filter, bool) {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid "+field))
		return Filter{}, false
	}
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return bad("user_id")
		}
		f.UserID = &id
	}
	if v := c.Query("book_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return bad("book_id")
		}
		f.BookID = &id
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return bad("from")
		}
		f.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return bad("to")
		}
		f.To = &t
	}
	return f, true
}
