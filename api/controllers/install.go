package controllers

import (
	"fmt"
	"net/http"

	"github.com/hubbridge/hubbridge-backend/api/responses"
	"github.com/hubbridge/hubbridge-backend/internal/tenants"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/logger"
)

// InstallCallback completes a HubSpot app install. HubSpot redirects the
// installing admin here with a one-time authorization code; once the
// portal's credentials are stored the browser is sent back into the portal.
func InstallCallback(svc tenants.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tenant service unavailable"))
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "authorization code is required"))
			return
		}

		install, err := svc.Install(ctx, code)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		target := fmt.Sprintf("https://%s/integrations-settings/%s/installed", install.UIDomain, install.PortalID)
		http.Redirect(w, r, target, http.StatusFound)
	}
}
