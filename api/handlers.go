package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
	"boardsync/hub"
	"boardsync/order"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, engine Mover, dispatcher *hub.Dispatcher, auth Authenticator, deduper Deduper, pushToken string, logger *log.Logger) {
	e.GET("/api/boards/:boardID/items", getBoardItems(store, auth))
	e.POST("/api/boards/:boardID/items", postItem(engine, dispatcher, auth, deduper))
	e.PUT("/api/items/:id/reorder", reorderItem(engine, dispatcher, auth, logger))
	e.PATCH("/api/items/:id", patchItem(store, dispatcher, auth))
	e.DELETE("/api/items/:id", deleteItem(engine, dispatcher, auth))

	e.GET("/api/stream", streamEvents(dispatcher, auth))
	e.POST("/api/stream/:connID/join", joinBoard(dispatcher, auth))
	e.POST("/api/stream/:connID/leave", leaveBoard(dispatcher, auth))
	e.POST("/api/stream/:connID/ping", pingBoard(dispatcher, auth))

	e.POST("/internal/events", pushEvent(dispatcher, pushToken))
	e.GET("/healthz", healthz())
}

type boardItemsResponse struct {
	Items []domain.Item `json:"items"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoardItems(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		items, err := store.ListBoard(ctx, c.Param("boardID"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, boardItemsResponse{Items: items})
	}
}

type createItemRequest struct {
	Title  string `json:"title"`
	Notes  string `json:"notes"`
	Column string `json:"column"`
	Index  *int   `json:"index"`
}

func postItem(engine Mover, pub Publisher, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req createItemRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		idemKey := c.Request().Header.Get("Idempotency-Key")
		if idemKey != "" && deduper != nil {
			added, err := deduper.Add(ctx, identity.UserID, idemKey)
			if err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
			if !added {
				return c.String(http.StatusConflict, "duplicate request")
			}
		}

		index := -1
		if req.Index != nil {
			index = *req.Index
		}
		item := domain.Item{
			ID:      uuid.NewString(),
			BoardID: c.Param("boardID"),
			Title:   req.Title,
			Notes:   req.Notes,
			Column:  req.Column,
		}
		created, err := engine.Create(ctx, item, index)
		if err != nil {
			if idemKey != "" && deduper != nil {
				if rerr := deduper.Remove(ctx, identity.UserID, idemKey); rerr != nil {
					c.Logger().Errorf("dedupe rollback failed: %v, key: %s", rerr, idemKey)
				}
			}
			if errors.Is(err, order.ErrInvalidColumn) {
				return c.String(http.StatusBadRequest, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		pub.Publish(ctx, created.BoardID, domain.ItemCreated, created)
		return c.JSON(http.StatusCreated, created)
	}
}

type reorderRequest struct {
	Column string `json:"column"`
	Index  int    `json:"index"`
}

func reorderItem(engine Mover, pub Publisher, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newReorderRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		_, authErr := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req reorderRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("invalid_body")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		metrics.SetColumn(req.Column)

		commitStart := time.Now()
		item, moveErr := engine.Move(ctx, c.Param("id"), req.Column, req.Index)
		metrics.ObserveCommit(time.Since(commitStart))
		if moveErr != nil {
			switch {
			case errors.Is(moveErr, order.ErrItemNotFound):
				metrics.SetErrorStage("not_found")
				err = c.String(http.StatusNotFound, moveErr.Error())
			case errors.Is(moveErr, order.ErrInvalidColumn):
				metrics.SetErrorStage("invalid_column")
				err = c.String(http.StatusBadRequest, moveErr.Error())
			default:
				metrics.SetErrorStage("storage")
				c.Logger().Error(moveErr)
				err = c.String(http.StatusInternalServerError, moveErr.Error())
			}
			return err
		}
		metrics.SetBoard(item.BoardID)

		// The write is committed; delivery is attempted best-effort and
		// can never fail the mutation.
		pub.Publish(ctx, item.BoardID, domain.ItemMoved, item)
		err = c.JSON(http.StatusOK, item)
		return err
	}
}

type patchItemRequest struct {
	Title *string `json:"title"`
	Notes *string `json:"notes"`
}

func patchItem(store Storage, pub Publisher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		var req patchItemRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		item, ok, err := store.GetItem(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if !ok {
			return c.String(http.StatusNotFound, "item not found")
		}

		if err := store.SetItemFields(ctx, item.BoardID, item.ID, req.Title, req.Notes); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if req.Title != nil {
			item.Title = *req.Title
		}
		if req.Notes != nil {
			item.Notes = *req.Notes
		}

		pub.Publish(ctx, item.BoardID, domain.ItemUpdated, item)
		return c.JSON(http.StatusOK, item)
	}
}

func deleteItem(engine Mover, pub Publisher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		item, err := engine.Delete(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, order.ErrItemNotFound) {
				return c.String(http.StatusNotFound, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		deleted := domain.ItemDeletedData{ID: item.ID, BoardID: item.BoardID}
		pub.Publish(ctx, item.BoardID, domain.ItemDeleted, deleted)
		return c.JSON(http.StatusOK, deleted)
	}
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
