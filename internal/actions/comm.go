package actions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clienthub/automation/internal/domain"
	"github.com/clienthub/automation/internal/expressions"
	"github.com/clienthub/automation/pkg/schema"
)

// messageParams is the shared params block for send-email and send-sms.
// Either a template id or inline subject/body; inline content and template
// content both go through placeholder interpolation.
type messageParams struct {
	TemplateID string `json:"template_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
}

// renderMessage resolves the template (when referenced) and interpolates
// subject and body against the execution scope.
func renderMessage(ctx context.Context, p messageParams, services *domain.Services, interp *expressions.Interpolator, in *ActionInput) (subject, body string, err error) {
	subject, body = p.Subject, p.Body
	if p.TemplateID != "" {
		tpl, terr := services.Templates.MessageTemplate(ctx, p.TemplateID)
		if terr != nil {
			return "", "", schema.NewErrorf(schema.ErrCodeExecution,
				"template %q: %s", p.TemplateID, terr.Error()).WithCause(terr)
		}
		if subject == "" {
			subject = tpl.Subject
		}
		if body == "" {
			body = tpl.Body
		}
	}
	if body == "" {
		return "", "", schema.NewError(schema.ErrCodeValidation, "message has no body: provide template_id or body")
	}
	if interp != nil && in.Scope != nil {
		if subject != "" {
			subject, err = interp.ResolveString(ctx, subject, in.Scope)
			if err != nil {
				return "", "", err
			}
		}
		body, err = interp.ResolveString(ctx, body, in.Scope)
		if err != nil {
			return "", "", err
		}
	}
	return subject, body, nil
}

// SendEmailAction renders and records an outbound email for the client.
type SendEmailAction struct {
	services *domain.Services
	interp   *expressions.Interpolator
}

func (a *SendEmailAction) Name() schema.ActionType { return schema.ActionSendEmail }
func (a *SendEmailAction) Description() string {
	return "Render a template or inline message and record it as a sent email."
}

func (a *SendEmailAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p messageParams
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	client, err := a.services.Clients.GetClient(ctx, in.ClientID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "client %q: %s", in.ClientID, err.Error()).WithCause(err)
	}
	if client.Email == "" {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "client %q has no email address", in.ClientID)
	}

	subject, body, err := renderMessage(ctx, p, a.services, a.interp, in)
	if err != nil {
		return nil, err
	}

	comm := &domain.Communication{
		ID:         uuid.NewString(),
		ClientID:   client.ID,
		Channel:    "email",
		Subject:    subject,
		Body:       body,
		Status:     domain.CommunicationSent,
		TemplateID: p.TemplateID,
		SentAt:     time.Now().UTC(),
	}
	if err := a.services.Communications.RecordCommunication(ctx, comm); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "record communication: %s", err.Error()).WithCause(err)
	}

	return &Result{
		Success: true,
		Message: "email sent to " + client.Email,
		Output: marshalOutput(map[string]any{
			"communication_id": comm.ID,
			"channel":          "email",
			"to":               client.Email,
			"subject":          subject,
		}),
	}, nil
}

// SendSMSAction renders and records an outbound SMS for the client.
type SendSMSAction struct {
	services *domain.Services
	interp   *expressions.Interpolator
}

func (a *SendSMSAction) Name() schema.ActionType { return schema.ActionSendSMS }
func (a *SendSMSAction) Description() string {
	return "Render a template or inline message and record it as a sent SMS."
}

func (a *SendSMSAction) Execute(ctx context.Context, in *ActionInput) (*Result, error) {
	var p messageParams
	if err := decodeParams(in.Params, &p); err != nil {
		return nil, err
	}
	client, err := a.services.Clients.GetClient(ctx, in.ClientID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "client %q: %s", in.ClientID, err.Error()).WithCause(err)
	}
	if client.Phone == "" {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "client %q has no phone number", in.ClientID)
	}

	_, body, err := renderMessage(ctx, p, a.services, a.interp, in)
	if err != nil {
		return nil, err
	}

	comm := &domain.Communication{
		ID:         uuid.NewString(),
		ClientID:   client.ID,
		Channel:    "sms",
		Body:       body,
		Status:     domain.CommunicationSent,
		TemplateID: p.TemplateID,
		SentAt:     time.Now().UTC(),
	}
	if err := a.services.Communications.RecordCommunication(ctx, comm); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "record communication: %s", err.Error()).WithCause(err)
	}

	return &Result{
		Success: true,
		Message: "sms sent to " + client.Phone,
		Output: marshalOutput(map[string]any{
			"communication_id": comm.ID,
			"channel":          "sms",
			"to":               client.Phone,
		}),
	}, nil
}
