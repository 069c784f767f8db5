package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyhub/internal/shared/testutil"
)

const ns = testutil.Namespace

func mustParse(t *testing.T, data []byte) *Document {
	t.Helper()
	doc, err := Parse(data, ns)
	require.NoError(t, err)
	return doc
}

func TestParse_FragmentsInDocumentOrder(t *testing.T) {
	doc := mustParse(t, testutil.LicenseXML(testutil.Brand,
		testutil.Fragment("WebClient", "<Timeout>30</Timeout>"),
		testutil.Fragment("Desktop", "<Mode>strict</Mode>"),
		`<Unrelated>ignored</Unrelated>`,
	))

	require.NoError(t, doc.Validate(testutil.Brand))
	require.Equal(t, 2, doc.Len())

	frags := doc.Fragments()
	assert.Equal(t, Name{Space: ns, Local: "WebClientParameters"}, frags[0].Name())
	assert.Equal(t, Name{Space: ns, Local: "DesktopParameters"}, frags[1].Name())

	f, ok := doc.Lookup("Desktop")
	require.True(t, ok)
	assert.Equal(t, testutil.Serialized("Desktop", "<Mode>strict</Mode>"), f.String())

	_, ok = doc.Lookup("Mobile")
	assert.False(t, ok)
}

func TestParse_NestedFragments(t *testing.T) {
	doc := mustParse(t, testutil.LicenseXML(testutil.Brand,
		testutil.Fragment("Outer", testutil.Fragment("Inner", "1")),
	))

	require.Equal(t, 2, doc.Len())
	_, ok := doc.Lookup("Inner")
	assert.True(t, ok)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"malformed", []byte("<SecurityPolicy attr=></SecurityPolicy>"), ErrMalformedDocument},
		{"not xml", []byte("definitely not xml"), ErrMalformedDocument},
		{"empty", nil, ErrMalformedDocument},
		{"duplicate fragment", testutil.LicenseXML(testutil.Brand,
			testutil.Fragment("Foo", "1"),
			testutil.Fragment("Foo", "2"),
		), ErrDuplicateFragment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.data, ns)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, doc)
		})
	}
}

func TestDocument_Validate(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"valid", testutil.LicenseXML(testutil.Brand), nil},
		{"missing brand", testutil.LicenseXML(""), ErrMissingBrand},
		{"wrong brand", testutil.LicenseXML("Other Brand"), ErrBrandMismatch},
		{"brand outside namespace", []byte(
			`<SecurityPolicy xmlns="urn:other"><BrandName>` + testutil.Brand + `</BrandName></SecurityPolicy>`,
		), ErrMissingBrand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mustParse(t, tt.data).Validate(testutil.Brand)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_PrefixedNamespace(t *testing.T) {
	data := []byte(`<p:SecurityPolicy xmlns:p="` + ns + `">` +
		`<p:BrandName>` + testutil.Brand + `</p:BrandName>` +
		`<p:FooParameters a="1"><p:Limit>5</p:Limit></p:FooParameters>` +
		`</p:SecurityPolicy>`)

	doc := mustParse(t, data)
	require.NoError(t, doc.Validate(testutil.Brand))

	f, ok := doc.Lookup("Foo")
	require.True(t, ok)
	assert.Contains(t, f.String(), `xmlns:p="`+ns+`"`)
	assert.Contains(t, f.String(), `<p:Limit>5</p:Limit>`)
}

func TestFragment_Equal(t *testing.T) {
	base := mustParse(t, []byte(`<SecurityPolicy xmlns="`+ns+`">`+
		`<FooParameters b="2" a="1">
			<Limit>5</Limit>
		</FooParameters></SecurityPolicy>`))
	prefixed := mustParse(t, []byte(`<p:SecurityPolicy xmlns:p="`+ns+`">`+
		`<p:FooParameters a="1" b="2"><p:Limit>5</p:Limit></p:FooParameters></p:SecurityPolicy>`))
	changed := mustParse(t, []byte(`<SecurityPolicy xmlns="`+ns+`">`+
		`<FooParameters a="1" b="2"><Limit>6</Limit></FooParameters></SecurityPolicy>`))
	otherAttr := mustParse(t, []byte(`<SecurityPolicy xmlns="`+ns+`">`+
		`<FooParameters a="1" b="3"><Limit>5</Limit></FooParameters></SecurityPolicy>`))

	f1, _ := base.Lookup("Foo")
	f2, _ := prefixed.Lookup("Foo")
	f3, _ := changed.Lookup("Foo")
	f4, _ := otherAttr.Lookup("Foo")

	assert.True(t, f1.Equal(f2))
	assert.False(t, f1.Equal(f3))
	assert.False(t, f1.Equal(f4))
}

func TestFragment_EqualComparesCommentsAndProcInsts(t *testing.T) {
	parse := func(body string) Fragment {
		doc := mustParse(t, []byte(`<SecurityPolicy xmlns="`+ns+`"><FooParameters>`+body+`</FooParameters></SecurityPolicy>`))
		f, ok := doc.Lookup("Foo")
		require.True(t, ok)
		return f
	}

	plain := parse(`<Limit>5</Limit>`)
	commented := parse(`<!-- tuning --><Limit>5</Limit>`)
	recommented := parse(`<!-- retuned --><Limit>5</Limit>`)
	instructed := parse(`<?audit level="high"?><Limit>5</Limit>`)

	assert.False(t, plain.Equal(commented))
	assert.False(t, commented.Equal(recommented))
	assert.True(t, commented.Equal(parse(`<!-- tuning --><Limit>5</Limit>`)))
	assert.False(t, plain.Equal(instructed))
}

func TestParse_RootIsNotSelected(t *testing.T) {
	data := []byte(`<FooParameters xmlns="` + ns + `">` +
		`<BrandName>` + testutil.Brand + `</BrandName>` +
		`<BarParameters><Limit>1</Limit></BarParameters>` +
		`</FooParameters>`)

	doc := mustParse(t, data)
	require.NoError(t, doc.Validate(testutil.Brand))
	assert.Equal(t, 1, doc.Len())

	_, ok := doc.Lookup("Foo")
	assert.False(t, ok, "the root element is never a fragment")
	_, ok = doc.Lookup("Bar")
	assert.True(t, ok)

	rootBrand := []byte(`<BrandName xmlns="` + ns + `">` + testutil.Brand + `</BrandName>`)
	assert.ErrorIs(t, mustParse(t, rootBrand).Validate(testutil.Brand), ErrMissingBrand)
}
