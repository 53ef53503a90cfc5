package threat

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeAll percent-encodes every byte of s.
func encodeAll(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		b.WriteString("%")
		b.WriteString(strings.ToUpper(hexByte(s[i])))
	}
	return b.String()
}

func hexByte(c byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[c>>4], digits[c&0x0f]})
}

func group(t *testing.T, c Category) *Group {
	t.Helper()
	g := DefaultSet().Group(c)
	require.NotNil(t, g, "missing group %s", c)
	return g
}

func TestSQLInjectionRawAndEncoded(t *testing.T) {
	g := group(t, SQLInjection)
	payload := "' OR 1=1--"
	for _, s := range []string{
		payload,
		"id=" + payload,
		"id=" + url.QueryEscape(payload),
		"id=%27%20OR%201%3D1--",
		encodeAll(payload),
		"prefix %zz " + payload,
	} {
		assert.True(t, Matches(s, g), "expected sqlInjection match for %q", s)
	}
}

func TestSQLInjectionKeywordPairs(t *testing.T) {
	g := group(t, SQLInjection)
	for _, s := range []string{
		"1 UNION ALL SELECT password",
		"select name from users",
		"INSERT INTO t VALUES (1)",
		"delete from sessions",
		"DROP TABLE members",
		"exec(xp_cmdshell)",
		"a=1/*comment*/",
		"a=1#",
	} {
		assert.True(t, g.Matches(s), "expected sqlInjection match for %q", s)
	}
}

func TestXSSScriptTag(t *testing.T) {
	g := group(t, XSS)
	payload := "<script>alert('x')</script>"
	assert.True(t, g.Matches(payload))
	assert.True(t, g.Matches(encodeAll(payload)))
	assert.True(t, g.Matches("name=%3Cscript%3Ealert%28%27XSS%27%29%3C%2Fscript%3E"))
}

func TestXSSVariants(t *testing.T) {
	g := group(t, XSS)
	for _, s := range []string{
		"<SCRIPT src=//evil>",
		"url=javascript:void(0)",
		`q=<img src=x onerror=steal()>`,
		"q=<img/onload=x>",
		"<iframe src=x>",
		"<object data=x>",
		"<embed src=x>",
		"eval (atob('x'))",
		"document.cookie",
		"document.write('x')",
	} {
		assert.True(t, g.Matches(s), "expected xss match for %q", s)
	}
}

func TestPathTraversalAnyCase(t *testing.T) {
	g := group(t, PathTraversal)
	for _, s := range []string{
		"/static/../../etc/passwd",
		`/a/..\windows`,
		"/a/..%2fetc",
		"/a/..%2Fetc",
		"/a/..%5cwin",
		"/a/..%5Cwin",
		"/a/%2e%2e%2fetc",
	} {
		assert.True(t, g.Matches(s), "expected pathTraversal match for %q", s)
	}
}

func TestCommandInjection(t *testing.T) {
	g := group(t, CommandInjection)
	for _, s := range []string{
		"host=example.com;id",
		"x=1|nc -e sh",
		"x=`id`",
		"x=1&&id",
		"x=1%26%26id",
		"file=a & b",
		"cmd=whoami",
		"u=CURL http://x",
		"x=${IFS}",
		"x=$(id)",
	} {
		assert.True(t, g.Matches(s), "expected commandInjection match for %q", s)
	}
}

func TestSensitiveFiles(t *testing.T) {
	g := group(t, SensitiveFile)
	for _, s := range []string{
		"/.env",
		"/.ENV",
		"/.env.local",
		"/.git/config",
		"/config.json",
		"/package.json",
		"/package-lock.json",
		"/yarn.lock",
		"/backup/dump.sql",
		"/logs/app.log",
		"/%2eenv",
	} {
		assert.True(t, g.Matches(s), "expected sensitiveFiles match for %q", s)
	}
	for _, s := range []string{"/", "/dashboard", "/environment", "/app.js", "/logs/view"} {
		assert.False(t, g.Matches(s), "unexpected sensitiveFiles match for %q", s)
	}
}

func TestBenignQueriesDoNotMatch(t *testing.T) {
	benign := []string{
		"id=123&name=test",
		"page=2&sort=asc",
		"q=hello",
		"user=alice&limit=50&offset=100",
		"condition=new&session_id=abc123",
		"event=42&member=7&year=2024",
		"a=1&b=2&",
		"utm_source=mail&",
	}
	for _, q := range benign {
		for _, c := range []Category{SQLInjection, XSS, CommandInjection} {
			assert.False(t, group(t, c).Matches(q), "%s matched benign query %q", c, q)
		}
	}
}

func TestMalformedEscapeFallsBackToRaw(t *testing.T) {
	_, ok := Decode("%zz")
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		assert.False(t, group(t, XSS).Matches("%E0%A4%A"))
	})
	assert.True(t, group(t, PathTraversal).Matches("%zz/../x"))
}

func TestDecodeKeepsPlus(t *testing.T) {
	decoded, ok := Decode("a+b%20c")
	require.True(t, ok)
	assert.Equal(t, "a+b c", decoded)
	assert.Equal(t, "a b c", DecodeQuery("a+b%20c"))
	assert.Equal(t, "%zz", DecodeQuery("%zz"))
}

func TestMatchesNilMatcher(t *testing.T) {
	assert.False(t, Matches("anything", nil))
	var g *Group
	assert.False(t, g.Matches("<script>"))
}

type stubMatcher string

func (s stubMatcher) Matches(v string) bool { return strings.Contains(v, string(s)) }

func TestMatchesPluggable(t *testing.T) {
	assert.True(t, Matches("hello world", stubMatcher("world")))
	assert.False(t, Matches("hello", stubMatcher("world")))
}
