package outreach

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const (
	DefaultOutreachText = `Você é o responsável da loja {{.Name}}?

Vamos melhorar seu cardápio e deixá-lo profissional?`

	DefaultWelcomeText = `Olá, {{.CustomerName}}! 👋 Muito obrigado pelo seu pedido!

Recebemos a sua loja: *{{.StoreName}}*.

Em breve você receberá novas atualizações. 🚀`

	DefaultNoticeText = `{{.CustomerName}} acabou de fazer uma solicitação para a loja {{.StoreName}}.`
)

// Templates are the message bodies, parsed once per config.
type Templates struct {
	outreach *template.Template
	welcome  *template.Template
	notice   *template.Template
}

// ParseTemplates parses the three bodies. Empty strings use the defaults.
func ParseTemplates(outreach, welcome, notice string) (*Templates, error) {
	parse := func(name, text, def string) (*template.Template, error) {
		if strings.TrimSpace(text) == "" {
			text = def
		}
		t, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		return t, nil
	}
	var (
		ts  Templates
		err error
	)
	if ts.outreach, err = parse("outreach", outreach, DefaultOutreachText); err != nil {
		return nil, err
	}
	if ts.welcome, err = parse("welcome", welcome, DefaultWelcomeText); err != nil {
		return nil, err
	}
	if ts.notice, err = parse("operator_notice", notice, DefaultNoticeText); err != nil {
		return nil, err
	}
	return &ts, nil
}

func mustDefaultTemplates() *Templates {
	ts, err := ParseTemplates("", "", "")
	if err != nil {
		panic(err)
	}
	return ts
}

type leadView struct{ Name string }

type welcomeView struct {
	CustomerName string
	StoreName    string
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (ts *Templates) Outreach(name string) (string, error) {
	return render(ts.outreach, leadView{Name: name})
}

func (ts *Templates) Welcome(customer, store string) (string, error) {
	return render(ts.welcome, welcomeView{CustomerName: customer, StoreName: store})
}

func (ts *Templates) Notice(customer, store string) (string, error) {
	return render(ts.notice, welcomeView{CustomerName: customer, StoreName: store})
}
