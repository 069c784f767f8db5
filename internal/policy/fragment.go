package policy

import (
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// Name is a namespace-qualified XML element name.
type Name struct {
	Space string
	Local string
}

func (n Name) String() string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

// Fragment is one named parameter block of a policy document. Fragments are
// immutable; String returns the standalone serialized element.
type Fragment struct {
	name      Name
	content   string
	canonical string
}

// Name returns the qualified element name.
func (f Fragment) Name() Name { return f.name }

// String returns the serialized element, carrying the namespace
// declarations it needs to stand alone.
func (f Fragment) String() string { return f.content }

// Equal reports deep content equality. Comments and processing instructions
// are content; prefix choice, attribute order and whitespace-only text are
// not significant.
func (f Fragment) Equal(other Fragment) bool {
	return f.name == other.name && f.canonical == other.canonical
}

func newFragment(el *etree.Element) (Fragment, error) {
	content, err := serializeElement(el)
	if err != nil {
		return Fragment{}, err
	}

	var b strings.Builder
	writeCanonical(&b, el)

	return Fragment{
		name:      qualifiedName(el),
		content:   content,
		canonical: b.String(),
	}, nil
}

// qualifiedName resolves the element prefix against the in-scope declarations.
func qualifiedName(el *etree.Element) Name {
	return Name{Space: resolvePrefix(el, el.Space), Local: el.Tag}
}

// resolvePrefix walks el and its ancestors for the declaration of prefix.
// The empty prefix resolves the default namespace.
func resolvePrefix(el *etree.Element, prefix string) string {
	switch prefix {
	case "xml":
		return xmlNamespace
	case "xmlns":
		return ""
	}

	for cur := el; cur != nil; cur = cur.Parent() {
		for _, a := range cur.Attr {
			if prefix == "" && a.Space == "" && a.Key == "xmlns" {
				return a.Value
			}
			if prefix != "" && a.Space == "xmlns" && a.Key == prefix {
				return a.Value
			}
		}
	}
	return ""
}

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

// serializeElement writes a detached copy of el, declaring on the copy every
// prefix the subtree uses but inherits from outside it.
func serializeElement(el *etree.Element) (string, error) {
	used := make(map[string]struct{})
	collectPrefixes(el, used)

	cp := el.Copy()
	declared := make(map[string]struct{})
	for _, a := range cp.Attr {
		switch {
		case a.Space == "xmlns":
			declared[a.Key] = struct{}{}
		case a.Space == "" && a.Key == "xmlns":
			declared[""] = struct{}{}
		}
	}

	prefixes := make([]string, 0, len(used))
	for p := range used {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	for _, p := range prefixes {
		if _, ok := declared[p]; ok {
			continue
		}
		uri := resolvePrefix(el, p)
		if uri == "" {
			continue
		}
		if p == "" {
			cp.CreateAttr("xmlns", uri)
		} else {
			cp.CreateAttr("xmlns:"+p, uri)
		}
	}

	doc := etree.NewDocument()
	doc.SetRoot(cp)
	return doc.WriteToString()
}

func collectPrefixes(el *etree.Element, used map[string]struct{}) {
	if el.Space != "xml" {
		used[el.Space] = struct{}{}
	}
	for _, a := range el.Attr {
		if a.Space != "" && a.Space != "xml" && a.Space != "xmlns" {
			used[a.Space] = struct{}{}
		}
	}
	for _, child := range el.ChildElements() {
		collectPrefixes(child, used)
	}
}

// writeCanonical renders el in a prefix-independent form used for equality.
func writeCanonical(b *strings.Builder, el *etree.Element) {
	b.WriteString("<")
	b.WriteString(qualifiedName(el).String())

	attrs := make([]string, 0, len(el.Attr))
	for _, a := range el.Attr {
		if isNamespaceDecl(a) {
			continue
		}
		space := ""
		if a.Space != "" {
			space = resolvePrefix(el, a.Space)
		}
		attrs = append(attrs, Name{Space: space, Local: a.Key}.String()+"="+strconv.Quote(a.Value))
	}
	sort.Strings(attrs)
	for _, a := range attrs {
		b.WriteString(" ")
		b.WriteString(a)
	}
	b.WriteString(">")

	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.Element:
			writeCanonical(b, t)
		case *etree.CharData:
			if t.IsWhitespace() {
				continue
			}
			b.WriteString(strconv.Quote(t.Data))
		case *etree.Comment:
			b.WriteString("<!--")
			b.WriteString(strconv.Quote(t.Data))
			b.WriteString("-->")
		case *etree.ProcInst:
			b.WriteString("<?")
			b.WriteString(t.Target)
			b.WriteString(" ")
			b.WriteString(strconv.Quote(t.Inst))
			b.WriteString("?>")
		}
	}
	b.WriteString("</>")
}
