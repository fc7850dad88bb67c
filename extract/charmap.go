package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// escapeTable maps the escape sequences found in embedded script data to
// their characters. Sites serialise Czech text with lowercase or uppercase
// hex digits, so both spellings are listed.
var escapeTable = []string{
	`\"`, `"`,
	`\'`, `'`,
	`\/`, `/`,
	`\n`, " ",
	`\r`, " ",
	`\t`, " ",
	`\u00a0`, " ", `\u00A0`, " ",
	`\u0026`, "&",
	`\u003c`, "<", `\u003C`, "<",
	`\u003e`, ">", `\u003E`, ">",
	`\u00e1`, "á", `\u00E1`, "á",
	`\u00c1`, "Á", `\u00C1`, "Á",
	`\u010d`, "č", `\u010D`, "č",
	`\u010c`, "Č", `\u010C`, "Č",
	`\u010f`, "ď", `\u010F`, "ď",
	`\u010e`, "Ď", `\u010E`, "Ď",
	`\u00e9`, "é", `\u00E9`, "é",
	`\u00c9`, "É", `\u00C9`, "É",
	`\u011b`, "ě", `\u011B`, "ě",
	`\u011a`, "Ě", `\u011A`, "Ě",
	`\u00ed`, "í", `\u00ED`, "í",
	`\u00cd`, "Í", `\u00CD`, "Í",
	`\u0148`, "ň",
	`\u0147`, "Ň",
	`\u00f3`, "ó", `\u00F3`, "ó",
	`\u00d3`, "Ó", `\u00D3`, "Ó",
	`\u0159`, "ř",
	`\u0158`, "Ř",
	`\u0161`, "š",
	`\u0160`, "Š",
	`\u0165`, "ť",
	`\u0164`, "Ť",
	`\u00fa`, "ú", `\u00FA`, "ú",
	`\u00da`, "Ú", `\u00DA`, "Ú",
	`\u016f`, "ů", `\u016F`, "ů",
	`\u016e`, "Ů", `\u016E`, "Ů",
	`\u00fd`, "ý", `\u00FD`, "ý",
	`\u00dd`, "Ý", `\u00DD`, "Ý",
	`\u017e`, "ž", `\u017E`, "ž",
	`\u017d`, "Ž", `\u017D`, "Ž",
	`\u00e4`, "ä", `\u00E4`, "ä",
	`\u00f6`, "ö", `\u00F6`, "ö",
	`\u00fc`, "ü", `\u00FC`, "ü",
	`\u00df`, "ß", `\u00DF`, "ß",
	`\u2013`, "–",
	`\u2014`, "—",
	`\u201e`, "„", `\u201E`, "„",
	`\u201c`, "“", `\u201C`, "“",
	`\u00b0`, "°", `\u00B0`, "°",
	`\u00d7`, "×", `\u00D7`, "×",
	`\u20ac`, "€", `\u20AC`, "€",
	`\\`, `\`,
}

var (
	escapeReplacer = strings.NewReplacer(escapeTable...)
	escapeIndex    = tableSequences()
	unicodeEscape  = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)
)

// tableSequences returns the set of escape sequences in escapeTable
func tableSequences() map[string]struct{} {
	seqs := make(map[string]struct{}, len(escapeTable)/2)
	for i := 0; i < len(escapeTable); i += 2 {
		seqs[escapeTable[i]] = struct{}{}
	}
	return seqs
}

// DecodeEscapes replaces escape sequences in a lenient script value.
// Sequences missing from the table are decoded numerically; surrogate
// halves are dropped. A \u preceded by an escaped backslash is literal text.
func DecodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	last := 0
	for _, loc := range unicodeEscape.FindAllStringIndex(s, -1) {
		seq := s[loc[0]:loc[1]]
		if _, known := escapeIndex[seq]; known || escapedBackslash(s, loc[0]) {
			continue
		}
		b.WriteString(s[last:loc[0]])
		code, err := strconv.ParseUint(seq[2:], 16, 32)
		if err == nil && (code < 0xD800 || code > 0xDFFF) {
			b.WriteRune(rune(code))
		}
		last = loc[1]
	}
	b.WriteString(s[last:])

	return escapeReplacer.Replace(b.String())
}

// escapedBackslash reports whether the backslash at i is itself escaped,
// i.e. an odd number of backslashes precede it
func escapedBackslash(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}
