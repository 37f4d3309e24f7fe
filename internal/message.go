package formrelay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/mail"
)

const (
	CareerSubject  = "New Career Application"
	ContactSubject = "New Business Connect: Join the Conversation"
)

// Submission holds the fields shared by both forms. Missing fields stay empty.
type Submission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// submissionFromJSON takes the four fields from a decoded JSON object without
// imposing a schema. Scalars are rendered as sent, null and missing as empty.
func submissionFromJSON(fields map[string]any) Submission {
	return Submission{
		Name:    jsonText(fields["name"]),
		Email:   jsonText(fields["email"]),
		Phone:   jsonText(fields["phone"]),
		Message: jsonText(fields["message"]),
	}
}

func jsonText(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number, bool:
		return fmt.Sprint(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

var bodyTmpl = template.Must(template.New("body").Parse(`
<h2>{{.Title}}</h2>
<p><strong>Name:</strong> {{.Name}}</p>
<p><strong>Email:</strong> {{.Email}}</p>
<p><strong>Phone:</strong> {{.Phone}}</p>
<p><strong>Message:</strong> {{.Message}}</p>
{{- if .Attached}}
<p><strong>Resume:</strong> Attached</p>
{{- end}}
`))

// renderBody builds the HTML body relayed to the recipient. Field values are
// escaped.
func renderBody(title string, sub Submission, attached bool) (string, error) {
	var buf bytes.Buffer
	err := bodyTmpl.Execute(&buf, struct {
		Submission
		Title    string
		Attached bool
	}{sub, title, attached})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// replyTo returns the submitter address when it parses as a single mailbox.
func replyTo(addr string) string {
	a, err := mail.ParseAddress(addr)
	if err != nil {
		return ""
	}
	return a.Address
}
