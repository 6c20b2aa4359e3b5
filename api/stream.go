package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"boardsync/domain"
	"boardsync/hub"
)

const heartbeatInterval = 25 * time.Second

// streamEvents opens the server-sent event stream for one connection. The
// first event carries the connection id the client uses to address
// join/leave/ping calls. Disconnect cleanup runs before the handler
// returns.
func streamEvents(d *hub.Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		identity, err := auth.IdentityFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		conn := d.Register(identity)
		// The request context is already done when the defer runs, so the
		// leave events publish on a fresh context.
		defer d.Disconnect(context.Background(), conn.ID)

		hello, err := connectedEnvelope(conn.ID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "stream setup failed")
		}
		if err := writeEvent(c, flusher, hello); err != nil {
			return nil
		}

		ctx := c.Request().Context()
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case payload := <-conn.Events():
				if err := writeEvent(c, flusher, payload); err != nil {
					return nil
				}
			case <-heartbeat.C:
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func connectedEnvelope(connID string) ([]byte, error) {
	data, err := json.Marshal(domain.ConnectedData{ConnectionID: connID})
	if err != nil {
		return nil, err
	}
	return json.Marshal(domain.Envelope{
		Type: domain.Connected,
		Data: data,
		Time: time.Now().UnixMilli(),
	})
}

func writeEvent(c echo.Context, flusher http.Flusher, payload []byte) error {
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(payload); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

type boardRequest struct {
	BoardID string `json:"boardId"`
}

// resolveConn authorizes a stream control call: the caller's identity
// must own the connection it addresses.
func resolveConn(c echo.Context, d *hub.Dispatcher, auth Authenticator) (string, int, error) {
	identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return "", http.StatusUnauthorized, err
	}
	connID := c.Param("connID")
	owner, ok := d.Owner(connID)
	if !ok {
		return "", http.StatusNotFound, hub.ErrUnknownConnection
	}
	if owner.UserID != identity.UserID {
		return "", http.StatusForbidden, echo.NewHTTPError(http.StatusForbidden)
	}
	return connID, http.StatusOK, nil
}

func joinBoard(d *hub.Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		connID, status, err := resolveConn(c, d, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		var req boardRequest
		if err := decodeBody(c, &req); err != nil || req.BoardID == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := d.Join(c.Request().Context(), connID, req.BoardID); err != nil {
			return c.String(http.StatusNotFound, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func leaveBoard(d *hub.Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		connID, status, err := resolveConn(c, d, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		var req boardRequest
		if err := decodeBody(c, &req); err != nil || req.BoardID == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		d.Leave(c.Request().Context(), connID, req.BoardID)
		return c.NoContent(http.StatusNoContent)
	}
}

func pingBoard(d *hub.Dispatcher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		connID, status, err := resolveConn(c, d, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		var req boardRequest
		if err := decodeBody(c, &req); err != nil || req.BoardID == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		d.Ping(connID, req.BoardID)
		return c.NoContent(http.StatusNoContent)
	}
}

type pushEventRequest struct {
	BoardID string          `json:"boardId"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// pushEvent lets trusted collaborators broadcast events for mutations
// they committed themselves (board metadata, comments). Guarded by a
// shared token, not end-user credentials.
func pushEvent(d *hub.Dispatcher, token string) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		parts := strings.SplitN(authHeader, " ", 2)
		if token == "" || len(parts) != 2 || parts[0] != "Bearer" || parts[1] != token {
			return c.NoContent(http.StatusUnauthorized)
		}
		var req pushEventRequest
		if err := decodeBody(c, &req); err != nil || req.BoardID == "" || req.Type == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		d.Publish(c.Request().Context(), req.BoardID, req.Type, req.Data)
		return c.NoContent(http.StatusAccepted)
	}
}
