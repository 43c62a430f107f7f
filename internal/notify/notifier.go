package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

const (
	tagWelcome      = "welcome"
	tagConfirmation = "email-confirmation"
)

// WelcomeEmail is sent once a profile has been provisioned.
type WelcomeEmail struct {
	Email      string
	Name       string
	Nickname   string
	SignupDate time.Time
}

// ConfirmationEmail carries a link that confirms the recipient's address.
type ConfirmationEmail struct {
	Email string
	Name  string
	Link  string
}

// Receipt identifies a delivered message.
type Receipt struct {
	MessageID string
}

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	Mailer  Mailer
	AppName string
}

// Notifier renders application emails and hands them to a Mailer.
type Notifier struct {
	mailer  Mailer
	appName string
}

// NewNotifier constructs a Notifier.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if cfg.Mailer == nil {
		return nil, fmt.Errorf("%w: mailer required", ErrInvalidConfig)
	}
	appName := strings.TrimSpace(cfg.AppName)
	if appName == "" {
		appName = "Kindred"
	}
	return &Notifier{mailer: cfg.Mailer, appName: appName}, nil
}

// SendWelcomeEmail greets a newly provisioned user by nickname.
func (n *Notifier) SendWelcomeEmail(ctx context.Context, email WelcomeEmail) (Receipt, error) {
	if strings.TrimSpace(email.Email) == "" {
		return Receipt{}, fmt.Errorf("%w: recipient required", ErrInvalidMessage)
	}
	data := welcomeData{
		AppName:    n.appName,
		Name:       firstNonEmpty(email.Name, email.Nickname, "there"),
		Nickname:   email.Nickname,
		SignupDate: email.SignupDate.UTC().Format("January 2, 2006"),
	}
	message, err := render(welcomeTemplates, data)
	if err != nil {
		return Receipt{}, err
	}
	message.To = email.Email
	message.Subject = fmt.Sprintf("Welcome to %s, %s", n.appName, firstNonEmpty(email.Nickname, data.Name))
	message.Tag = tagWelcome

	messageID, err := n.mailer.Send(ctx, message)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: messageID}, nil
}

// SendConfirmationEmail mails the confirmation link.
func (n *Notifier) SendConfirmationEmail(ctx context.Context, email ConfirmationEmail) error {
	if strings.TrimSpace(email.Email) == "" {
		return fmt.Errorf("%w: recipient required", ErrInvalidMessage)
	}
	if strings.TrimSpace(email.Link) == "" {
		return fmt.Errorf("%w: confirmation link required", ErrInvalidMessage)
	}
	message, err := render(confirmationTemplates, confirmationData{
		AppName: n.appName,
		Name:    firstNonEmpty(email.Name, "there"),
		Link:    email.Link,
	})
	if err != nil {
		return err
	}
	message.To = email.Email
	message.Subject = fmt.Sprintf("Confirm your %s email address", n.appName)
	message.Tag = tagConfirmation

	_, err = n.mailer.Send(ctx, message)
	return err
}

type welcomeData struct {
	AppName    string
	Name       string
	Nickname   string
	SignupDate string
}

type confirmationData struct {
	AppName string
	Name    string
	Link    string
}

type templatePair struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

var (
	welcomeTemplates = templatePair{
		html: htmltemplate.Must(htmltemplate.New("welcome.html").Parse(welcomeHTML)),
		text: texttemplate.Must(texttemplate.New("welcome.txt").Parse(welcomeText)),
	}
	confirmationTemplates = templatePair{
		html: htmltemplate.Must(htmltemplate.New("confirmation.html").Parse(confirmationHTML)),
		text: texttemplate.Must(texttemplate.New("confirmation.txt").Parse(confirmationText)),
	}
)

func render(templates templatePair, data any) (Message, error) {
	var htmlBody, textBody bytes.Buffer
	if err := templates.html.Execute(&htmlBody, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", templates.html.Name(), err)
	}
	if err := templates.text.Execute(&textBody, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", templates.text.Name(), err)
	}
	return Message{HTMLBody: htmlBody.String(), TextBody: textBody.String()}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

const welcomeHTML = `<!doctype html>
<html>
  <body style="font-family: sans-serif; color: #1f2933;">
    <h1>Welcome to {{.AppName}}, {{.Name}}!</h1>
    <p>Your nickname is <strong>{{.Nickname}}</strong>. You can change it any time from your profile.</p>
    <p>Member since {{.SignupDate}}.</p>
  </body>
</html>
`

const welcomeText = `Welcome to {{.AppName}}, {{.Name}}!

Your nickname is {{.Nickname}}. You can change it any time from your profile.

Member since {{.SignupDate}}.
`

const confirmationHTML = `<!doctype html>
<html>
  <body style="font-family: sans-serif; color: #1f2933;">
    <p>Hi {{.Name}},</p>
    <p>Please confirm your {{.AppName}} email address.</p>
    <p><a href="{{.Link}}">Confirm email</a></p>
  </body>
</html>
`

const confirmationText = `Hi {{.Name}},

Please confirm your {{.AppName}} email address by opening this link:

{{.Link}}
`
