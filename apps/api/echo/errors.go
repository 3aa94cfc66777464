package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bilan/core"
	"github.com/trezcool/bilan/core/bpf"
)

var (
	errHttpNotFound          = echo.NewHTTPError(http.StatusNotFound, "tenant not found")
	errHttpCriticalIssues    = echo.NewHTTPError(http.StatusConflict, bpf.ErrCriticalIssues.Error())
	errHttpFailedChecks      = echo.NewHTTPError(http.StatusConflict, bpf.ErrFailedChecks.Error())
	errHttpSourceUnavailable = echo.NewHTTPError(http.StatusServiceUnavailable, "record source unavailable, please retry later")
	errHttpExportFailed      = echo.NewHTTPError(http.StatusInternalServerError, "export generation failed")
)

// sentinelErrors maps the domain sentinels to their HTTP error.
var sentinelErrors = map[error]*echo.HTTPError{
	bpf.ErrTenantNotFound: errHttpNotFound,
	bpf.ErrCriticalIssues: errHttpCriticalIssues,
	bpf.ErrFailedChecks:   errHttpFailedChecks,
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		if herr, ok := sentinelErrors[cause]; ok {
			cause = herr
		}

		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case *echo.BindingError:
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *bpf.SourceError:
			code = errHttpSourceUnavailable.Code
			message = errHttpSourceUnavailable.Message
			ctx.Response().Header().Set(echo.HeaderRetryAfter, "5")
			logger.Warn(origErr.Error(), logArgs(ctx, err)...)
		case *bpf.ExportError:
			code = errHttpExportFailed.Code
			message = errHttpExportFailed.Message
			logger.Error(origErr.Error(), logArgs(ctx, err)...)
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			logger.Error(msg, logArgs(ctx, errors.Wrap(err, msg))...)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
