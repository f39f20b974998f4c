package richtext

import (
	"fmt"
	"html"
	"strings"
)

// RenderHTML projects a document to HTML for export and read-only display.
func RenderHTML(d *Document) string {
	var b strings.Builder
	root := d.MustNode(d.Root())
	for _, c := range root.Children {
		renderNode(d, c, &b)
	}
	return b.String()
}

func renderNode(d *Document, key NodeKey, b *strings.Builder) {
	n, ok := d.Node(key)
	if !ok {
		return
	}
	switch n.Type {
	case TypeParagraph:
		b.WriteString("<p>")
		renderChildren(d, n, b)
		b.WriteString("</p>\n")
	case TypeHeading:
		tag := n.Level.Tag()
		fmt.Fprintf(b, "<%s>", tag)
		renderChildren(d, n, b)
		fmt.Fprintf(b, "</%s>\n", tag)
	case TypeList:
		tag := n.List.Tag()
		fmt.Fprintf(b, "<%s>\n", tag)
		renderChildren(d, n, b)
		fmt.Fprintf(b, "</%s>\n", tag)
	case TypeListItem:
		b.WriteString("<li>")
		renderChildren(d, n, b)
		b.WriteString("</li>\n")
	case TypeTable:
		b.WriteString("<table>\n")
		renderChildren(d, n, b)
		b.WriteString("</table>\n")
	case TypeTableRow:
		b.WriteString("<tr>\n")
		renderChildren(d, n, b)
		b.WriteString("</tr>\n")
	case TypeTableCell:
		b.WriteString("<td>")
		renderChildren(d, n, b)
		b.WriteString("</td>\n")
	case TypeLink:
		fmt.Fprintf(b, `<a href="%s">`, html.EscapeString(n.URL))
		renderChildren(d, n, b)
		b.WriteString("</a>")
	case TypeImage:
		fmt.Fprintf(b, `<img src="%s" alt="%s"`, html.EscapeString(n.Src), html.EscapeString(n.AltText))
		if !n.Width.Inherit {
			fmt.Fprintf(b, ` width="%d"`, n.Width.Px)
		}
		if !n.Height.Inherit {
			fmt.Fprintf(b, ` height="%d"`, n.Height.Px)
		}
		b.WriteString(">")
	case TypeText:
		b.WriteString(renderText(n))
	default:
		// Anything unrecognized degrades to its text content.
		renderChildren(d, n, b)
	}
}

func renderChildren(d *Document, n *Node, b *strings.Builder) {
	for _, c := range n.Children {
		renderNode(d, c, b)
	}
}

func renderText(n *Node) string {
	out := html.EscapeString(n.Text)
	if n.Format.Has(FormatCode) {
		out = "<code>" + out + "</code>"
	}
	if n.Format.Has(FormatStrikethrough) {
		out = "<s>" + out + "</s>"
	}
	if n.Format.Has(FormatUnderline) {
		out = "<u>" + out + "</u>"
	}
	if n.Format.Has(FormatItalic) {
		out = "<em>" + out + "</em>"
	}
	if n.Format.Has(FormatBold) {
		out = "<strong>" + out + "</strong>"
	}
	return out
}
