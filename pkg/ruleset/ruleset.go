package ruleset

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"
)

// Regex is a match/replace pair applied to URLs or response bodies.
type Regex struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

// KV sets (or, with an empty value, deletes) a query parameter.
type KV struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Headers overrides the request headers sent upstream for a matched domain.
// A value of "none" suppresses the header entirely.
type Headers struct {
	UserAgent string `yaml:"user-agent,omitempty"`
	Referer   string `yaml:"referer,omitempty"`
	Cookie    string `yaml:"cookie,omitempty"`
	CSP       string `yaml:"content-security-policy,omitempty"`
}

// Injection inserts or replaces markup at a CSS selector position.
type Injection struct {
	Position string `yaml:"position,omitempty"`
	Append   string `yaml:"append,omitempty"`
	Prepend  string `yaml:"prepend,omitempty"`
	Replace  string `yaml:"replace,omitempty"`
}

// Rule configures proxy behavior for one domain (or set of domains). Every
// domain listed in a rule is force-proxied: embedding checks for it
// short-circuit and the content is always served through the rewriter.
type Rule struct {
	Domain  string   `yaml:"domain,omitempty"`
	Domains []string `yaml:"domains,omitempty"`
	Paths   []string `yaml:"paths,omitempty"`
	Headers Headers  `yaml:"headers,omitempty"`

	RegexRules []Regex `yaml:"regexRules,omitempty"`

	URLMods struct {
		Domain []Regex `yaml:"domain,omitempty"`
		Path   []Regex `yaml:"path,omitempty"`
		Query  []KV    `yaml:"query,omitempty"`
	} `yaml:"urlMods,omitempty"`

	Injections []Injection `yaml:"injections,omitempty"`
}

type Ruleset []Rule

// Load reads rules from a ";"-separated list of YAML files or directories.
// An empty path yields an empty ruleset, not an error.
func Load(rulePaths string) (Ruleset, error) {
	if rulePaths == "" {
		return Ruleset{}, nil
	}

	var set Ruleset
	for _, rulePath := range strings.Split(rulePaths, ";") {
		trimmed := strings.TrimSpace(rulePath)
		if trimmed == "" {
			continue
		}
		err := filepath.Walk(trimmed, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !isYAML(path) {
				return nil
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read rules file %q: %w", path, err)
			}
			var rules Ruleset
			if err := yaml.Unmarshal(raw, &rules); err != nil {
				return fmt.Errorf("syntax error in rules file %q: %w", path, err)
			}
			set = append(set, rules...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load rules from %q: %w", trimmed, err)
		}
	}
	return set, nil
}

func isYAML(path string) bool {
	return strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml")
}

// Match returns the first rule covering host (exact or subdomain) and path.
func (rs Ruleset) Match(host, path string) (Rule, bool) {
	for _, rule := range rs {
		for _, domain := range rule.domains() {
			if !matchesDomain(host, domain) {
				continue
			}
			if len(rule.Paths) > 0 && !containsPath(rule.Paths, path) {
				continue
			}
			return rule, true
		}
	}
	return Rule{}, false
}

// MatchesDomain reports whether any rule covers host.
func (rs Ruleset) MatchesDomain(host string) bool {
	for _, rule := range rs {
		for _, domain := range rule.domains() {
			if matchesDomain(host, domain) {
				return true
			}
		}
	}
	return false
}

// Domains lists every domain configured across the ruleset.
func (rs Ruleset) Domains() []string {
	var domains []string
	for _, rule := range rs {
		domains = append(domains, rule.domains()...)
	}
	return domains
}

func (rs Ruleset) Count() int { return len(rs) }

func (r Rule) domains() []string {
	if r.Domain == "" {
		return r.Domains
	}
	return append([]string{r.Domain}, r.Domains...)
}

func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// ModifyURL applies the rule's URL modifications in place: domain and path
// regex rewrites, then query set/delete.
func (r Rule) ModifyURL(u *url.URL) error {
	for _, mod := range r.URLMods.Domain {
		re, err := regexp.Compile(mod.Match)
		if err != nil {
			return fmt.Errorf("bad domain mod %q: %w", mod.Match, err)
		}
		u.Host = re.ReplaceAllString(u.Host, mod.Replace)
	}
	for _, mod := range r.URLMods.Path {
		re, err := regexp.Compile(mod.Match)
		if err != nil {
			return fmt.Errorf("bad path mod %q: %w", mod.Match, err)
		}
		u.Path = re.ReplaceAllString(u.Path, mod.Replace)
	}
	if len(r.URLMods.Query) > 0 {
		q := u.Query()
		for _, kv := range r.URLMods.Query {
			if kv.Value == "" {
				q.Del(kv.Key)
				continue
			}
			q.Set(kv.Key, kv.Value)
		}
		u.RawQuery = q.Encode()
	}
	return nil
}

// Apply runs the rule's body rewrites: regex rules first, then selector
// injections. Injections re-render the document, so they only run when the
// rule actually declares any.
func (r Rule) Apply(body string) (string, error) {
	for _, rr := range r.RegexRules {
		re, err := regexp.Compile(rr.Match)
		if err != nil {
			return body, fmt.Errorf("bad regex rule %q: %w", rr.Match, err)
		}
		body = re.ReplaceAllString(body, rr.Replace)
	}

	if len(r.Injections) == 0 {
		return body, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body, fmt.Errorf("could not parse document for injection: %w", err)
	}
	for _, inj := range r.Injections {
		sel := doc.Find(inj.Position)
		if inj.Replace != "" {
			sel.ReplaceWithHtml(inj.Replace)
		}
		if inj.Append != "" {
			sel.AppendHtml(inj.Append)
		}
		if inj.Prepend != "" {
			sel.PrependHtml(inj.Prepend)
		}
	}
	out, err := doc.Html()
	if err != nil {
		return body, fmt.Errorf("could not render document after injection: %w", err)
	}
	return out, nil
}
