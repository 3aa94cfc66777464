package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bilan/core/bpf"
)

const ctxOrganizationKey = "organization"

// tenantMiddleware loads the organization of the `:tenant` path param into the context.
func tenantMiddleware(svc bpf.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			org, err := svc.Organization(ctx.Request().Context(), ctx.Param("tenant"))
			if err != nil {
				return errors.Wrap(err, "loading tenant")
			}
			ctx.Set(ctxOrganizationKey, org)
			return next(ctx)
		}
	}
}

func contextOrganization(ctx echo.Context) (bpf.Organization, bool) {
	org, ok := ctx.Get(ctxOrganizationKey).(bpf.Organization)
	return org, ok
}

// logArgs appends the tenant loaded by tenantMiddleware, if any, to args.
func logArgs(ctx echo.Context, args ...interface{}) []interface{} {
	if org, ok := contextOrganization(ctx); ok {
		args = append(args, org)
	}
	return args
}
