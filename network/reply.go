package network

type ButtonStyle int

const (
	StylePrimary ButtonStyle = iota + 1
	StyleSecondary
	StyleSuccess
	StyleDanger
)

type Button struct {
	Label    string      `json:"label"`
	CustomID string      `json:"custom_id"`
	Style    ButtonStyle `json:"style"`
	Disabled bool        `json:"disabled,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// MaxButtonsPerRow is how many buttons one row holds.
const MaxButtonsPerRow = 5

// Reply is a transport-neutral message: an embed-like card plus button rows.
type Reply struct {
	Content     string     `json:"content,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Color       int        `json:"color,omitempty"`
	Fields      []Field    `json:"fields,omitempty"`
	Image       string     `json:"image,omitempty"`
	Thumbnail   string     `json:"thumbnail,omitempty"`
	Footer      string     `json:"footer,omitempty"`
	Rows        [][]Button `json:"rows,omitempty"`
	Ephemeral   bool       `json:"ephemeral,omitempty"`
	SurfaceID   string     `json:"surface_id,omitempty"`
}

// Text is a plain content reply.
func Text(content string, ephemeral bool) Reply {
	return Reply{Content: content, Ephemeral: ephemeral}
}

// Card starts an embed reply.
func Card(title, description string, color int) Reply {
	return Reply{Title: title, Description: description, Color: color}
}

func (r Reply) AddField(name, value string, inline bool) Reply {
	r.Fields = append(r.Fields, Field{Name: name, Value: value, Inline: inline})
	return r
}

// AddButtons appends buttons, wrapping into rows of MaxButtonsPerRow.
func (r Reply) AddButtons(buttons ...Button) Reply {
	for len(buttons) > 0 {
		n := min(len(buttons), MaxButtonsPerRow)
		r.Rows = append(r.Rows, append([]Button(nil), buttons[:n]...))
		buttons = buttons[n:]
	}
	return r
}

// AsEphemeral marks the reply visible only to the actor.
func (r Reply) AsEphemeral() Reply {
	r.Ephemeral = true
	return r
}

// Buttons returns every button across all rows.
func (r Reply) Buttons() []Button {
	var all []Button
	for _, row := range r.Rows {
		all = append(all, row...)
	}
	return all
}
