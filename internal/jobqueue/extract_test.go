package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextSkipsChromeAndScripts(t *testing.T) {
	html := `
	<html><body>
		<nav>site nav</nav>
		<script>var x = 1;</script>
		<style>.a{color:red}</style>
		<h1>Title</h1>
		<p>First paragraph.</p>
		<p>Second   paragraph.</p>
		<footer>footer text</footer>
	</body></html>`

	text, err := ExtractText(html)
	require.NoError(t, err)
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "First paragraph.")
	assert.Contains(t, text, "Second paragraph.", "multiple spaces must be collapsed")
	assert.NotContains(t, text, "site nav")
	assert.NotContains(t, text, "var x = 1")
	assert.NotContains(t, text, "footer text")
}

func TestExtractTextCollapsesExcessiveNewlines(t *testing.T) {
	html := `<html><body><div>a</div><div></div><div></div><div></div><div>b</div></body></html>`
	text, err := ExtractText(html)
	require.NoError(t, err)
	assert.NotContains(t, text, "\n\n\n")
}

func TestExtractLinksIgnoresFragmentsAndEmptyHref(t *testing.T) {
	html := `
	<html><body>
		<a href="https://example.com/a">A</a>
		<a href="#section">skip</a>
		<a href="">empty</a>
		<a href="/relative/path">rel</a>
	</body></html>`

	links, err := ExtractLinks(html)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "/relative/path"}, links)
}

func TestExtractLinksNoAnchors(t *testing.T) {
	links, err := ExtractLinks(`<html><body><p>no links here</p></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, links)
}
