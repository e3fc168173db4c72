package content

import (
	"fmt"
	"html"
	"strings"
)

// RenderHTML renders d as the markup the widget would show in its editing
// surface. Block formats are read from the attributes of newline inserts;
// consecutive list items and code lines are grouped into one container.
func RenderHTML(d Delta) string {
	r := &renderer{}
	for _, op := range d.Ops {
		if s, ok := op.Text(); ok {
			parts := strings.Split(s, "\n")
			for i, part := range parts {
				if part != "" {
					r.line.WriteString(renderInline(part, op.Attributes))
					r.hasContent = true
				}
				if i < len(parts)-1 {
					r.endLine(op.Attributes)
				}
			}
			continue
		}
		if embed, ok := op.Embed(); ok {
			if markup := renderEmbed(embed, op.Attributes); markup != "" {
				r.line.WriteString(markup)
				r.hasContent = true
			}
		}
	}
	if r.hasContent {
		r.endLine(nil)
	}
	r.closeGroup()
	return r.out.String()
}

type renderer struct {
	out        strings.Builder
	line       strings.Builder
	hasContent bool
	group      string
	groupLines []string
}

func (r *renderer) endLine(attrs map[string]any) {
	inner := r.line.String()
	empty := !r.hasContent
	r.line.Reset()
	r.hasContent = false

	if attrBool(attrs, "code-block") {
		r.openGroup("pre")
		r.groupLines = append(r.groupLines, inner)
		return
	}

	if empty {
		inner = "<br>"
	}

	switch list := attrString(attrs, "list"); list {
	case "ordered":
		r.openGroup("ol")
		r.groupLines = append(r.groupLines, "<li>"+inner+"</li>")
		return
	case "bullet":
		r.openGroup("ul")
		r.groupLines = append(r.groupLines, "<li>"+inner+"</li>")
		return
	case "checked", "unchecked":
		r.openGroup("ul")
		r.groupLines = append(r.groupLines, fmt.Sprintf(`<li data-checked="%t">%s</li>`, list == "checked", inner))
		return
	}

	r.closeGroup()
	class := blockClass(attrs)
	if level := attrInt(attrs, "header"); level >= 1 && level <= 6 {
		fmt.Fprintf(&r.out, "<h%d%s>%s</h%d>", level, class, inner, level)
		return
	}
	if attrBool(attrs, "blockquote") {
		fmt.Fprintf(&r.out, "<blockquote%s>%s</blockquote>", class, inner)
		return
	}
	fmt.Fprintf(&r.out, "<p%s>%s</p>", class, inner)
}

func (r *renderer) openGroup(tag string) {
	if r.group == tag {
		return
	}
	r.closeGroup()
	r.group = tag
}

func (r *renderer) closeGroup() {
	switch r.group {
	case "":
		return
	case "pre":
		fmt.Fprintf(&r.out, `<pre class="ql-syntax" spellcheck="false">%s</pre>`, strings.Join(r.groupLines, "\n"))
	default:
		fmt.Fprintf(&r.out, "<%s>%s</%s>", r.group, strings.Join(r.groupLines, ""), r.group)
	}
	r.group = ""
	r.groupLines = nil
}

func blockClass(attrs map[string]any) string {
	var classes []string
	if align := attrString(attrs, "align"); align == "center" || align == "right" || align == "justify" {
		classes = append(classes, "ql-align-"+align)
	}
	if indent := attrInt(attrs, "indent"); indent > 0 && indent <= 8 {
		classes = append(classes, fmt.Sprintf("ql-indent-%d", indent))
	}
	if len(classes) == 0 {
		return ""
	}
	return fmt.Sprintf(` class="%s"`, strings.Join(classes, " "))
}

// renderInline applies inline formats innermost first, so the output nests as
// <a><strong><em><u><s><code>text</code></s></u></em></strong></a>.
func renderInline(text string, attrs map[string]any) string {
	out := html.EscapeString(text)
	if len(attrs) == 0 {
		return out
	}

	var styles []string
	if color := attrString(attrs, "color"); color != "" {
		styles = append(styles, "color: "+color+";")
	}
	if bg := attrString(attrs, "background"); bg != "" {
		styles = append(styles, "background-color: "+bg+";")
	}
	if len(styles) > 0 {
		out = fmt.Sprintf(`<span style="%s">%s</span>`, html.EscapeString(strings.Join(styles, " ")), out)
	}
	if attrBool(attrs, "code") {
		out = "<code>" + out + "</code>"
	}
	if attrBool(attrs, "strike") {
		out = "<s>" + out + "</s>"
	}
	if attrBool(attrs, "underline") {
		out = "<u>" + out + "</u>"
	}
	if attrBool(attrs, "italic") {
		out = "<em>" + out + "</em>"
	}
	if attrBool(attrs, "bold") {
		out = "<strong>" + out + "</strong>"
	}
	if href := attrString(attrs, "link"); href != "" {
		out = fmt.Sprintf(`<a href="%s" rel="noopener noreferrer" target="_blank">%s</a>`, html.EscapeString(href), out)
	}
	return out
}

func renderEmbed(embed map[string]any, attrs map[string]any) string {
	if src := attrString(embed, "image"); src != "" {
		alt := attrString(attrs, "alt")
		return fmt.Sprintf(`<img src="%s" alt="%s">`, html.EscapeString(src), html.EscapeString(alt))
	}
	if src := attrString(embed, "video"); src != "" {
		return fmt.Sprintf(`<iframe class="ql-video" frameborder="0" allowfullscreen="true" src="%s"></iframe>`, html.EscapeString(src))
	}
	return ""
}
