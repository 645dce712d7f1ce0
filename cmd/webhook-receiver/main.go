// Command webhook-receiver prints new-device login alerts. Point WEBHOOK_URL
// at it during local development.
package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/schoolhub/internal/service"
	"github.com/rryowa/schoolhub/internal/util"
)

const defaultAddr = ":9090"

func main() {
	logger := util.NewZapLogger(util.GetLogLevel())

	addr := os.Getenv("WEBHOOK_RECEIVER_ADDRESS")
	if addr == "" {
		addr = defaultAddr
	}

	e := echo.New()
	e.HideBanner = true
	e.POST("/", func(c echo.Context) error {
		var alert service.NewDeviceAlert
		if err := json.NewDecoder(c.Request().Body).Decode(&alert); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Error parsing JSON")
		}

		logger.Infow("Received login alert",
			"userID", alert.UserID,
			"sessionID", alert.SessionID,
			"userAgent", alert.UserAgent,
			"loggedAt", alert.LoggedAt,
		)
		return c.String(http.StatusOK, "Webhook received!")
	})

	logger.Infof("Webhook receiver listening on %s", addr)
	if err := e.Start(addr); err != nil {
		logger.Fatal(zap.Error(err))
	}
}
