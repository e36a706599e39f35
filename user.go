package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-backend/internal/library/users"
	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/logger"
)

func newUserCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "利用者の管理",
	}

	var req users.CreateUserRequest
	var role string
	create := &cobra.Command{
		Use:   "create",
		Short: "利用者を作成する（admin の作成はここからのみ）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger.Setup(cfg.Log)

			pw, err := readPassword(cmd.OutOrStdout(), cmd.InOrStdin(), "Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			req.Password = pw

			conn, dialect, err := db.Connect(cmd.Context(), cfg.DB)
			if err != nil {
				return err
			}
			defer conn.Close()

			u, err := users.NewService(conn, dialect).Create(cmd.Context(), req, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user id=%d email=%s role=%s\n", u.ID, u.Email, u.Role)
			return nil
		},
	}
	f := create.Flags()
	f.StringVar(&req.Email, "email", "", "メールアドレス")
	f.StringVar(&req.Name, "name", "", "氏名")
	f.StringVar(&req.BirthDate, "birth-date", "", "生年月日 (YYYY-MM-DD)")
	f.StringVar(&role, "role", auth.RoleMember, "member | admin")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("birth-date")

	cmd.AddCommand(create)
	return cmd
}

// readPassword: 端末ならエコー無しで読む。パイプ入力のときは1行読む
func readPassword(out io.Writer, in io.Reader, prompt string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
