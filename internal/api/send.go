package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/modfin/henry/slicez"
	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/brevo"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/metrics"
	"github.com/modfin/kuvert/internal/styling"
	"github.com/modfin/kuvert/pkg/zid"
	"github.com/modfin/kuvert/tools"
)

// MaxAttachmentSize is the combined decoded-size ceiling for attachments.
const MaxAttachmentSize = 20 * 1024 * 1024

const provider = "brevo"

func (s *Server) send(c echo.Context) error {

	key, err := s.bearerKey(c, true)
	if err != nil {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return err
	}

	var req kuvert.SendRequest
	if err := c.Bind(&req); err != nil {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return kuvert.Validation(map[string]string{"body": "could not parse request body"})
	}

	if violations := validateSend(req); len(violations) > 0 {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return kuvert.Validation(violations)
	}

	// Idempotency short-circuit. A stored outcome for this (tenant, key)
	// pair means no new provider call and no new message row.
	if req.IdempotencyKey != "" {
		existing, err := s.db.GetMessageByIdempotencyKey(key.Id, req.IdempotencyKey)
		if err == nil {
			metrics.Sends.WithLabelValues("cached").Inc()
			return c.JSON(http.StatusOK, cachedReceipt(existing))
		}
		if !errors.Is(err, dao.ErrNotFound) {
			return err
		}
	}

	if err := checkAttachmentCeiling(req.Attachments); err != nil {
		metrics.Sends.WithLabelValues("rejected").Inc()
		return err
	}

	from := s.resolveFrom(req, key)

	finalHTML := req.HTML
	if req.HTML != "" && req.Template != "" {
		finalHTML = styling.Process(req.HTML, styling.Options{
			Template:     req.Template,
			TemplateData: req.TemplateData,
			InlineCss:    req.InlineCss == nil || *req.InlineCss,
		})
	}

	messageId := zid.New().String()

	msg := dao.Message{
		Id:             messageId,
		AppKeyId:       key.Id,
		ToAddresses:    mustEncode(req.To),
		CcAddresses:    encodeOpt(req.Cc),
		BccAddresses:   encodeOpt(req.Bcc),
		FromEmail:      from.Email,
		FromName:       optString(from.Name),
		Subject:        optString(req.Subject),
		Tags:           encodeOpt(req.Tags),
		Status:         kuvert.StatusPending,
		IdempotencyKey: optString(req.IdempotencyKey),
	}
	if req.TemplateId > 0 {
		msg.TemplateId = &req.TemplateId
	}

	// The pending row is committed before the provider call so a crash
	// mid-send still leaves an auditable attempt.
	err = s.db.InsertMessage(msg)
	if errors.Is(err, dao.ErrDuplicateIdempotencyKey) {
		// Lost the race against a concurrent request with the same key,
		// the unique index is the arbiter. Return the winner's outcome.
		existing, err := s.db.GetMessageByIdempotencyKey(key.Id, req.IdempotencyKey)
		if err != nil {
			return err
		}
		metrics.Sends.WithLabelValues("cached").Inc()
		return c.JSON(http.StatusOK, cachedReceipt(existing))
	}
	if err != nil {
		return err
	}

	provReq := buildProviderRequest(req, from, finalHTML, key.Id, messageId)

	resp, raw, err := s.sender.Send(c.Request().Context(), provReq)
	if err != nil {
		payload := raw
		var provErr *brevo.Error
		if !errors.As(err, &provErr) {
			provErr = &brevo.Error{Code: "UNKNOWN", Message: err.Error()}
		}
		if len(payload) == 0 {
			payload, _ = json.Marshal(provErr)
		}
		if ferr := s.db.FinalizeMessage(messageId, kuvert.StatusFailed, nil, string(payload)); ferr != nil {
			s.log.WithError(ferr).WithField("message_id", messageId).Error("failed to finalize failed message")
		}
		metrics.Sends.WithLabelValues("failed").Inc()
		return kuvert.Upstream(provErr.Code, provErr.Message, provErr.Transport)
	}

	err = s.db.FinalizeMessage(messageId, kuvert.StatusQueued, &resp.MessageId, string(raw))
	if err != nil {
		s.log.WithError(err).WithField("message_id", messageId).Error("failed to finalize queued message")
	}

	metrics.Sends.WithLabelValues("queued").Inc()
	return c.JSON(http.StatusCreated, kuvert.Receipt{
		MessageId: resp.MessageId,
		Status:    kuvert.StatusQueued,
		Provider:  provider,
	})
}

// validateSend collects every violated field, not just the first.
func validateSend(req kuvert.SendRequest) map[string]string {
	violations := map[string]string{}

	if len(req.To) == 0 {
		violations["to"] = "at least one recipient is required"
	}
	checkAddresses := func(field string, addrs []kuvert.Address) {
		for i, a := range addrs {
			if !tools.ValidEmail(a.Email) {
				violations[fmt.Sprintf("%s.%d.email", field, i)] = fmt.Sprintf("%q is not a valid email address", a.Email)
			}
		}
	}
	checkAddresses("to", req.To)
	checkAddresses("cc", req.Cc)
	checkAddresses("bcc", req.Bcc)

	if req.From != nil && !tools.ValidEmail(req.From.Email) {
		violations["from.email"] = fmt.Sprintf("%q is not a valid email address", req.From.Email)
	}
	if req.ReplyTo != nil && !tools.ValidEmail(req.ReplyTo.Email) {
		violations["replyTo.email"] = fmt.Sprintf("%q is not a valid email address", req.ReplyTo.Email)
	}

	hasContent := req.Subject != "" && (req.Text != "" || req.HTML != "")
	hasTemplate := req.TemplateId > 0
	if !hasContent && !hasTemplate {
		violations["content"] = "must provide either (subject + text/html) or templateId"
	}

	for i, a := range req.Attachments {
		if a.Name == "" {
			violations[fmt.Sprintf("attachments.%d.name", i)] = "attachment name is required"
		}
		if a.ContentBase64 == "" {
			violations[fmt.Sprintf("attachments.%d.contentBase64", i)] = "attachment content is required"
		}
	}

	if req.Template != "" && !styling.Known(req.Template) {
		names := slicez.Map(styling.Available(), func(t styling.Template) string { return t.Name })
		violations["template"] = fmt.Sprintf("unknown template, available: %v", names)
	}

	return violations
}

func checkAttachmentCeiling(attachments []kuvert.Attachment) error {
	var total int64
	for _, a := range attachments {
		// base64 carries 3 decoded bytes per 4 encoded ones
		total += int64(len(a.ContentBase64)) * 3 / 4
	}
	if total > MaxAttachmentSize {
		return kuvert.PayloadTooLarge(fmt.Sprintf("total attachment size exceeds %dMB limit", MaxAttachmentSize/1024/1024))
	}
	return nil
}

// resolveFrom picks the effective sender identity by priority, request
// sender first, then the key's default, then the gateway default.
func (s *Server) resolveFrom(req kuvert.SendRequest, key *dao.AppKey) kuvert.Address {
	from := kuvert.Address{
		Email: s.cfg.DefaultFromEmail,
		Name:  s.cfg.DefaultFromName,
	}
	if key.DefaultFromEmail != nil && *key.DefaultFromEmail != "" {
		from.Email = *key.DefaultFromEmail
		from.Name = ""
		if key.DefaultFromName != nil {
			from.Name = *key.DefaultFromName
		}
	}
	if req.From != nil && req.From.Email != "" {
		from = *req.From
	}
	return from
}

func buildProviderRequest(req kuvert.SendRequest, from kuvert.Address, html string, appKeyId, messageId string) brevo.SendRequest {

	toRecipients := func(addrs []kuvert.Address) []brevo.Recipient {
		return slicez.Map(addrs, func(a kuvert.Address) brevo.Recipient {
			return brevo.Recipient{Email: a.Email, Name: a.Name}
		})
	}

	// The routing tags are the only way a webhook event finds its way
	// back to the right tenant and message.
	tags := append([]string(nil), req.Tags...)
	tags = append(tags, kuvert.AppKeyTag(appKeyId), kuvert.MessageTag(messageId))

	provReq := brevo.SendRequest{
		Sender:      brevo.Recipient{Email: from.Email, Name: from.Name},
		To:          toRecipients(req.To),
		Cc:          toRecipients(req.Cc),
		Bcc:         toRecipients(req.Bcc),
		Subject:     req.Subject,
		HTMLContent: html,
		TextContent: req.Text,
		TemplateId:  req.TemplateId,
		Params:      req.Params,
		Tags:        tags,
		Attachment: slicez.Map(req.Attachments, func(a kuvert.Attachment) brevo.Attachment {
			return brevo.Attachment{Name: a.Name, Content: a.ContentBase64}
		}),
	}
	if req.ReplyTo != nil {
		provReq.ReplyTo = &brevo.Recipient{Email: req.ReplyTo.Email, Name: req.ReplyTo.Name}
	}
	return provReq
}

func cachedReceipt(m *dao.Message) kuvert.Receipt {
	messageId := m.Id
	if m.ProviderMessageId != nil && *m.ProviderMessageId != "" {
		messageId = *m.ProviderMessageId
	}
	return kuvert.Receipt{
		MessageId: messageId,
		Status:    m.Status,
		Provider:  provider,
		Cached:    true,
	}
}

func mustEncode(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func encodeOpt[T any](list []T) *string {
	if len(list) == 0 {
		return nil
	}
	s := mustEncode(list)
	return &s
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
