// Package docs は手書きの OpenAPI ドキュメントと Swagger UI を配信する。
package docs

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

//go:embed openapi.yaml
var document []byte

const docPath = "/openapi.yaml"

func RegisterRoutes(r gin.IRoutes) {
	r.GET(docPath, func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml; charset=utf-8", document)
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(docPath)))
}
