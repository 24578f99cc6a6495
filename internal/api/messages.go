package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/dao"
)

const defaultPageSize = 50
const maxPageSize = 100

const defaultEventLimit = 200
const maxEventLimit = 500

func (s *Server) listMessages(c echo.Context) error {
	key, err := s.bearerKey(c, false)
	if err != nil {
		return err
	}

	limit := clampLimit(c.QueryParam("limit"), defaultPageSize, maxPageSize)

	// The cursor is the creation timestamp of the last returned record,
	// the next page selects records strictly older than it.
	var olderThan *time.Time
	if cursor := c.QueryParam("cursor"); cursor != "" {
		t, err := parseCursor(cursor)
		if err != nil {
			return kuvert.Validation(map[string]string{"cursor": "could not parse cursor"})
		}
		olderThan = &t
	}

	messages, hasMore, err := s.db.ListMessages(key.Id, limit, olderThan)
	if err != nil {
		return err
	}

	list := kuvert.MessageList{Messages: []kuvert.MessageView{}}
	for i := range messages {
		list.Messages = append(list.Messages, messageView(&messages[i], false))
	}
	if hasMore && len(messages) > 0 {
		list.Cursor = messages[len(messages)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	return c.JSON(http.StatusOK, list)
}

func (s *Server) getMessage(c echo.Context) error {
	key, err := s.bearerKey(c, false)
	if err != nil {
		return err
	}

	msg, err := s.db.GetMessageForAppKey(key.Id, c.Param("id"))
	if errors.Is(err, dao.ErrNotFound) {
		return kuvert.NotFound("message not found")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, messageView(msg, true))
}

func (s *Server) getMessageEvents(c echo.Context) error {
	key, err := s.bearerKey(c, false)
	if err != nil {
		return err
	}

	msg, err := s.db.GetMessageForAppKey(key.Id, c.Param("id"))
	if errors.Is(err, dao.ErrNotFound) {
		return kuvert.NotFound("message not found")
	}
	if err != nil {
		return err
	}

	limit := clampLimit(c.QueryParam("limit"), defaultEventLimit, maxEventLimit)

	events, err := s.db.ListEvents(key.Id, msg.Id, limit)
	if err != nil {
		return err
	}

	list := kuvert.EventList{Events: []kuvert.EventView{}}
	list.Message.Id = msg.Id
	if msg.ProviderMessageId != nil {
		list.Message.MessageId = *msg.ProviderMessageId
	}
	for _, e := range events {
		view := kuvert.EventView{
			Id:         e.Id,
			Type:       e.EventType,
			OccurredAt: e.OccurredAt,
			CreatedAt:  e.CreatedAt,
		}
		if e.RecipientEmail != nil {
			view.RecipientEmail = *e.RecipientEmail
		}
		if e.IP != nil {
			view.IP = *e.IP
		}
		if e.UserAgent != nil {
			view.UserAgent = *e.UserAgent
		}
		list.Events = append(list.Events, view)
	}

	return c.JSON(http.StatusOK, list)
}

func messageView(m *dao.Message, detail bool) kuvert.MessageView {
	view := kuvert.MessageView{
		Id:        m.Id,
		To:        m.To(),
		Cc:        m.Cc(),
		Bcc:       m.Bcc(),
		From:      m.From(),
		Tags:      m.TagList(),
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
	if m.ProviderMessageId != nil {
		view.MessageId = *m.ProviderMessageId
	}
	if m.Subject != nil {
		view.Subject = *m.Subject
	}
	if m.TemplateId != nil {
		view.TemplateId = *m.TemplateId
	}
	if detail {
		if m.IdempotencyKey != nil {
			view.IdempotencyKey = *m.IdempotencyKey
		}
		if m.ProviderResponse != nil {
			var resp map[string]interface{}
			if err := json.Unmarshal([]byte(*m.ProviderResponse), &resp); err == nil {
				view.ProviderResponse = resp
			}
		}
	}
	return view
}

func clampLimit(raw string, def, max int) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func parseCursor(cursor string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, cursor); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unparseable cursor")
}
