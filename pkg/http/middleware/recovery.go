package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	applogger "RunGuard/pkg/logger"
)

// Recover turns a handler panic into a 500 in the usual error envelope.
// A panic after the response was committed is only logged.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				l.Error("http handler panic",
					applogger.Error(perr),
					applogger.String("method", c.Request().Method),
					applogger.String("route", c.Path()),
					applogger.String("session", c.Param("id")),
					applogger.String("stack", string(debug.Stack())),
				)
				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":  http.StatusInternalServerError,
					"message": http.StatusText(http.StatusInternalServerError),
					"data": []map[string]string{{
						"code":    "ERR_INTERNAL",
						"message": "something went wrong",
					}},
				})
			}()
			return next(c)
		}
	}
}
