package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	keep := New(Config{Policy: MarkerKeep})
	strip := New(Config{Policy: MarkerStrip})

	cases := []struct {
		name      string
		raw       string
		wantKeep  string
		wantStrip string
		ok        bool
	}{
		{"local mobile", "31999998888", "5531999998888", "553199998888", true},
		{"formatted", "(31) 99999-8888", "5531999998888", "553199998888", true},
		{"already prefixed", "+55 31 99999-8888", "5531999998888", "553199998888", true},
		{"without marker", "3199998888", "5531999998888", "553199998888", true},
		{"trunk zero", "031999998888", "5531999998888", "553199998888", true},
		{"area code equals country code", "55999998888", "5555999998888", "555599998888", true},
		{"landline strip domain untouched", "553133334444", "5531933334444", "553133334444", true},
		{"too short", "99998888", "", "", false},
		{"too long", "55319999988889", "", "", false},
		{"empty", "  ", "", "", false},
		{"zero area code", "5501999998888", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := keep.Normalize(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.wantKeep, got)

			got, ok = strip.Normalize(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.wantStrip, got)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"31999998888", "3199998888", "+55 (31) 98888-7777", "553188887777", "0055 31 99999 8888"}
	for _, policy := range []MarkerPolicy{MarkerKeep, MarkerStrip} {
		n := New(Config{Policy: policy})
		for _, in := range inputs {
			once, ok := n.Normalize(in)
			require.True(t, ok, "%s %s", policy, in)
			twice, ok := n.Normalize(once)
			require.True(t, ok)
			assert.Equal(t, once, twice, "%s %s", policy, in)
			assert.True(t, n.Valid(once))
		}
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	n := New(DefaultConfig())
	for _, id := range []string{"553199998888", "551188887777"} {
		kept := n.Canonical(id, MarkerKeep)
		assert.Len(t, kept, 13)
		assert.Equal(t, id, n.Canonical(kept, MarkerStrip))
	}
	for _, id := range []string{"5531999998888", "5511988887777"} {
		stripped := n.Canonical(id, MarkerStrip)
		assert.Len(t, stripped, 12)
		assert.Equal(t, id, n.Canonical(stripped, MarkerKeep))
	}
}

func TestComposeFromParts(t *testing.T) {
	n := New(DefaultConfig())

	got, ok := n.ComposeFromParts("31", "999998888")
	assert.True(t, ok)
	assert.Equal(t, "31999998888", got)

	got, ok = n.ComposeFromParts("(31)", "9999-8888")
	assert.True(t, ok)
	assert.Equal(t, "3199998888", got)

	_, ok = n.ComposeFromParts("031", "999998888")
	assert.False(t, ok)
	_, ok = n.ComposeFromParts("31", "9999888")
	assert.False(t, ok)
	_, ok = n.ComposeFromParts("", "999998888")
	assert.False(t, ok)
}

func TestExtractMultiple(t *testing.T) {
	n := New(DefaultConfig())
	assert.Equal(t,
		[]string{"31988887777", "3199997777"},
		n.ExtractMultiple(" 31988887777 / (31) 9999-7777 / 1234 / "),
	)
	assert.Nil(t, n.ExtractMultiple("   "))
	assert.Empty(t, n.ExtractMultiple("n/a"))
}

func TestVariants(t *testing.T) {
	n := New(Config{Policy: MarkerStrip})
	assert.Equal(t, []string{"5531999998888", "553199998888"}, n.Variants("31999998888"))
	assert.Equal(t, []string{"5531999998888", "553199998888"}, n.Variants("553199998888"))
	assert.Nil(t, n.Variants("123"))
}

func TestValid(t *testing.T) {
	n := New(Config{Policy: MarkerKeep})
	assert.True(t, n.Valid("5531999998888"))
	assert.False(t, n.Valid("553199998888"))
	assert.False(t, n.Valid("5531999998888@c.us"))
	assert.False(t, n.Valid(""))
}

func TestExpandLead(t *testing.T) {
	n := New(Config{Policy: MarkerKeep})
	got := n.Expand(Parts{AreaCode: "31", Local: "999998888", Secondary: "31988887777/3199997777"})
	require.Len(t, got, 3)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.Identity
	}
	assert.Equal(t, []string{"5531999998888", "5531988887777", "5531999997777"}, ids)
	assert.Equal(t, SourcePrimary, got[0].Source)
	assert.Equal(t, "secondary #1", got[1].Source)
	assert.Equal(t, "secondary #2", got[2].Source)
}

func TestExpandDedupFirstSourceWins(t *testing.T) {
	n := New(Config{Policy: MarkerStrip})
	got := n.Expand(Parts{AreaCode: "31", Local: "999998888", Secondary: "5531999998888"})
	require.Len(t, got, 1)
	assert.Equal(t, "553199998888", got[0].Identity)
	assert.Equal(t, SourcePrimary, got[0].Source)
}

func TestExpandSkipsUnusableParts(t *testing.T) {
	n := New(DefaultConfig())
	got := n.Expand(Parts{AreaCode: "", Local: "999998888", Secondary: "31988887777"})
	require.Len(t, got, 1)
	assert.Equal(t, "secondary #1", got[0].Source)

	assert.Empty(t, n.Expand(Parts{}))
}

func TestParseMarkerPolicy(t *testing.T) {
	p, err := ParseMarkerPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MarkerKeep, p)

	p, err = ParseMarkerPolicy(" STRIP ")
	require.NoError(t, err)
	assert.Equal(t, MarkerStrip, p)

	_, err = ParseMarkerPolicy("both")
	require.Error(t, err)
}
