package htmlutil

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNormalizeColor(t *testing.T) {
	table := []struct {
		input    string
		expected string
	}{
		{input: "#FFFFFF", expected: "#ffffff"},
		{input: " #fff ", expected: "#ffffff"},
		{input: "rgb(255, 0, 0)", expected: "#ff0000"},
		{input: "RGB( 0,128,0 )", expected: "#008000"},
		{input: "rgba(0, 0, 255, 0.5)", expected: "#0000ff"},
		{input: "White", expected: "white"},
		{input: "light green", expected: "lightgreen"},
		{input: "#zzz", expected: "#zzz"},
		{input: "rgb(300, 0, 0)", expected: "rgb(300,0,0)"},
		{input: "", expected: ""},
	}

	for _, row := range table {
		require.Equal(t, row.expected, NormalizeColor(row.input), row.input)
	}
}

func TestToHex(t *testing.T) {
	hex, err := ToHex("rgb(1, 2, 3)")
	require.Nil(t, err)
	require.Equal(t, "#010203", hex)

	_, err = ToHex("green")
	require.NotNil(t, err)
}

func TestParseStyle(t *testing.T) {
	style := ParseStyle("Color: #000; background-color : rgb(1,2,3) !important;;broken; color:red")
	diff := cmp.Diff(map[string]string{
		"color":            "red",
		"background-color": "rgb(1,2,3)",
	}, style)
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestParseStyleKeepsQuotedAndUrlValues(t *testing.T) {
	style := ParseStyle(`background: url(data:image/png;base64,iVBORw0KGgo=) no-repeat; ` +
		`font-family: "Segoe UI; Arial"; /* legend; colors */ color: rgb(0, 0, 255); ` +
		`background-color: White`)

	require.Equal(t, "rgb(0, 0, 255)", style["color"])
	require.Equal(t, "White", style["background-color"])
	require.Contains(t, style["background"], "url(data:image/png;base64,iVBORw0KGgo=)")
	require.Contains(t, style["font-family"], "Segoe UI; Arial")
	require.Len(t, style, 4)
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "In OR", CleanText("\n\t In \n  OR ​"))
	require.Equal(t, "", CleanText("   "))
}

func TestGetAnchors(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<div>
			<a href="Status.aspx?facilityID=12">  Main
				Campus </a>
			<a>no href</a>
			<a href="https://other.example/x">Other</a>
		</div>`))
	require.Nil(t, err)

	base, err := url.Parse("https://tracker.example/portal/")
	require.Nil(t, err)

	anchors := GetAnchors(base, doc.Find("a"))
	require.Len(t, anchors, 2)
	require.Equal(t, "Main Campus", anchors[0].Name)
	require.Equal(t, "https://tracker.example/portal/Status.aspx?facilityID=12", anchors[0].Url.String())
	require.Equal(t, "https://other.example/x", anchors[1].Url.String())
}
