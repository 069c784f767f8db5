package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// FragmentSuffix marks the elements that carry policy parameters.
const FragmentSuffix = "Parameters"

const brandElement = "BrandName"

var (
	// ErrMalformedDocument wraps XML syntax errors.
	ErrMalformedDocument = errors.New("malformed policy document")
	// ErrDuplicateFragment is returned when two fragments share a qualified name.
	ErrDuplicateFragment = errors.New("duplicate policy fragment")
	// ErrMissingBrand is returned when the document carries no BrandName element.
	ErrMissingBrand = errors.New("policy document has no brand name")
	// ErrBrandMismatch is returned when the BrandName element has the wrong value.
	ErrBrandMismatch = errors.New("policy document brand name mismatch")
)

// Document is an immutable parsed policy document.
type Document struct {
	namespace string
	brand     *string
	fragments []Fragment
	index     map[Name]int
}

// Parse reads a decrypted license document. namespace qualifies the BrandName
// element and the fragments returned by Lookup.
func Parse(data []byte, namespace string) (*Document, error) {
	xml := etree.NewDocument()
	if err := xml.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	root := xml.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedDocument)
	}

	doc := &Document{
		namespace: namespace,
		index:     make(map[Name]int),
	}

	var walkErr error
	walkDescendants(root, func(el *etree.Element) bool {
		name := qualifiedName(el)

		if doc.brand == nil && name == (Name{Space: namespace, Local: brandElement}) {
			text := elementText(el)
			doc.brand = &text
		}

		if !strings.HasSuffix(el.Tag, FragmentSuffix) {
			return true
		}
		if _, dup := doc.index[name]; dup {
			walkErr = fmt.Errorf("%w: %s", ErrDuplicateFragment, name)
			return false
		}

		frag, err := newFragment(el)
		if err != nil {
			walkErr = fmt.Errorf("serialize fragment %s: %w", name, err)
			return false
		}
		doc.index[name] = len(doc.fragments)
		doc.fragments = append(doc.fragments, frag)
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return doc, nil
}

// Validate checks the brand marker against brand.
func (d *Document) Validate(brand string) error {
	if d.brand == nil {
		return ErrMissingBrand
	}
	if *d.brand != brand {
		return fmt.Errorf("%w: got %q", ErrBrandMismatch, *d.brand)
	}
	return nil
}

// Namespace returns the target namespace the document was parsed against.
func (d *Document) Namespace() string { return d.namespace }

// Fragments returns the parameter fragments in document order.
func (d *Document) Fragments() []Fragment {
	out := make([]Fragment, len(d.fragments))
	copy(out, d.fragments)
	return out
}

// Len returns the number of fragments.
func (d *Document) Len() int { return len(d.fragments) }

// Get returns the fragment with the given qualified name.
func (d *Document) Get(name Name) (Fragment, bool) {
	i, ok := d.index[name]
	if !ok {
		return Fragment{}, false
	}
	return d.fragments[i], true
}

// Lookup returns the <policyType>Parameters fragment in the target namespace.
func (d *Document) Lookup(policyType string) (Fragment, bool) {
	return d.Get(Name{Space: d.namespace, Local: policyType + FragmentSuffix})
}

// walkDescendants visits the descendants of root, not root itself, in
// document order until fn returns false.
func walkDescendants(root *etree.Element, fn func(*etree.Element) bool) {
	for _, child := range root.ChildElements() {
		if !walk(child, fn) {
			return
		}
	}
}

// walk visits el and its descendants in document order until fn returns false.
func walk(el *etree.Element, fn func(*etree.Element) bool) bool {
	if !fn(el) {
		return false
	}
	for _, child := range el.ChildElements() {
		if !walk(child, fn) {
			return false
		}
	}
	return true
}

// elementText concatenates the character data of el and its descendants.
func elementText(el *etree.Element) string {
	var b strings.Builder
	var collect func(*etree.Element)
	collect = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				b.WriteString(t.Data)
			case *etree.Element:
				collect(t)
			}
		}
	}
	collect(el)
	return b.String()
}
