// Package marker resolves ${NAMESPACE.path} tokens inside policy
// statements and redirect targets to runtime values.
package marker

import (
	"context"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/hokkyo/monban/internal/repositories"
)

// markerPattern matches one ${NAMESPACE.path} token
var markerPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// castPattern matches the optional leading (*type) cast of an expression,
// e.g. "(*int)${USER.id}" or "(*ip)${SERVER.remote_addr}"
var castPattern = regexp.MustCompile(`^\(\*([a-z]+)\)(.+)$`)

// maxParamDepth bounds recursive marker expansion through policy params
const maxParamDepth = 5

// NamespaceFunc resolves one namespace's path to a value. Returning
// (nil, nil) means the path is not set (indeterminate), an error means
// resolution itself failed.
type NamespaceFunc func(ctx context.Context, path string, rc *RuntimeContext) (interface{}, error)

// Resolver resolves marker expressions. Unrecognized namespaces fall
// through to registered custom namespace handlers.
type Resolver struct {
	directory repositories.SubjectDirectory
	custom    map[string]NamespaceFunc
}

// NewResolver creates a marker resolver. The subject directory backs the
// USER_OPTION and USER_META namespaces and may be nil when a host does
// not use them.
func NewResolver(directory repositories.SubjectDirectory) *Resolver {
	return &Resolver{
		directory: directory,
		custom:    make(map[string]NamespaceFunc),
	}
}

// RegisterNamespace registers a handler for a custom marker namespace.
// Registered handlers take precedence over built-in namespaces.
func (r *Resolver) RegisterNamespace(name string, fn NamespaceFunc) {
	r.custom[strings.ToUpper(name)] = fn
}

// Resolve evaluates a marker expression.
//   - A single-marker expression substitutes the raw value.
//   - A multi-marker or mixed expression concatenates resolved values as strings.
//   - A leading (*type) cast coerces the final value; (*ip) with a CIDR
//     operand compiles to a subnet-membership predicate.
//
// A marker that resolves to nothing yields nil, which condition evaluation
// treats as indeterminate.
func (r *Resolver) Resolve(ctx context.Context, expression string, rc *RuntimeContext) (interface{}, error) {
	return r.resolve(ctx, expression, rc, 0)
}

func (r *Resolver) resolve(ctx context.Context, expression string, rc *RuntimeContext, depth int) (interface{}, error) {
	if depth > maxParamDepth {
		return nil, fmt.Errorf("marker expansion exceeded depth %d in %q", maxParamDepth, expression)
	}

	castName := ""
	if m := castPattern.FindStringSubmatch(expression); m != nil {
		castName = m[1]
		expression = m[2]
	}

	value, err := r.substitute(ctx, expression, rc, depth)
	if err != nil {
		return nil, err
	}
	if castName == "" {
		return value, nil
	}
	return Cast(castName, value)
}

func (r *Resolver) substitute(ctx context.Context, expression string, rc *RuntimeContext, depth int) (interface{}, error) {
	matches := markerPattern.FindAllStringSubmatchIndex(expression, -1)
	if len(matches) == 0 {
		return expression, nil
	}

	// Single marker spanning the whole expression: raw substitution.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(expression) {
		return r.resolveToken(ctx, expression[matches[0][2]:matches[0][3]], rc, depth)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(expression[last:m[0]])
		value, err := r.resolveToken(ctx, expression[m[2]:m[3]], rc, depth)
		if err != nil {
			return nil, err
		}
		if value == nil {
			// One unresolved marker makes the whole expression indeterminate.
			return nil, nil
		}
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("marker %q is not representable as a string: %w", expression[m[0]:m[1]], err)
		}
		sb.WriteString(s)
		last = m[1]
	}
	sb.WriteString(expression[last:])
	return sb.String(), nil
}

// resolveToken resolves the inside of one ${...} token
func (r *Resolver) resolveToken(ctx context.Context, token string, rc *RuntimeContext, depth int) (interface{}, error) {
	parts := strings.SplitN(token, ".", 2)
	namespace := strings.ToUpper(parts[0])
	path := ""
	if len(parts) == 2 {
		path = parts[1]
	}

	if fn, ok := r.custom[namespace]; ok {
		return fn(ctx, path, rc)
	}

	switch namespace {
	case "USER":
		return r.resolveUser(path, rc)
	case "USER_OPTION":
		return r.resolveUserOption(ctx, path, rc)
	case "USER_META":
		return r.resolveUserMeta(ctx, path, rc)
	case "DATETIME":
		return resolveDatetime(path, rc), nil
	case "GET", "QUERY":
		return resolveQuery(path, rc), nil
	case "POST":
		return resolvePost(path, rc), nil
	case "COOKIE":
		return resolveCookie(path, rc), nil
	case "SERVER":
		return resolveServer(path, rc), nil
	case "ENV":
		if v, ok := os.LookupEnv(path); ok {
			return v, nil
		}
		return nil, nil
	case "CONST", "CONFIG":
		return dig(rc.Config, path), nil
	case "ARGS", "ARG":
		return dig(rc.Args, path), nil
	case "POLICY_META":
		return dig(rc.PolicyMeta, path), nil
	case "POLICY_PARAM":
		raw := dig(rc.PolicyParams, path)
		// Param values may themselves contain markers.
		if s, ok := raw.(string); ok && markerPattern.MatchString(s) {
			return r.resolve(ctx, s, rc, depth+1)
		}
		return raw, nil
	case "SITE", "WP_SITE":
		return dig(rc.Site, path), nil
	case "JWT":
		return dig(rc.Claims, path), nil
	case "CALLBACK":
		return r.resolveCallback(ctx, path, rc)
	default:
		return nil, fmt.Errorf("unknown marker namespace %q", namespace)
	}
}

func (r *Resolver) resolveUser(path string, rc *RuntimeContext) (interface{}, error) {
	if path == "authenticated" || path == "isAuthenticated" {
		return rc.User != nil, nil
	}
	if rc.User == nil {
		return nil, nil
	}
	u := rc.User
	switch path {
	case "id", "ID":
		return u.UserID, nil
	case "login", "user_login":
		return u.Login, nil
	case "email", "user_email":
		return u.Email, nil
	case "display_name":
		return u.DisplayName, nil
	case "roles":
		return u.Roles, nil
	case "primary_role":
		return u.PrimaryRole(), nil
	case "caps", "capabilities":
		return u.Capabilities, nil
	default:
		return dig(u.Attributes, path), nil
	}
}

func (r *Resolver) resolveUserOption(ctx context.Context, path string, rc *RuntimeContext) (interface{}, error) {
	if rc.User == nil || r.directory == nil {
		return nil, nil
	}
	value, err := r.directory.GetUserOption(ctx, rc.User.UserID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read user option %q: %w", path, err)
	}
	return value, nil
}

func (r *Resolver) resolveUserMeta(ctx context.Context, path string, rc *RuntimeContext) (interface{}, error) {
	if rc.User == nil || r.directory == nil {
		return nil, nil
	}
	value, err := r.directory.GetUserMeta(ctx, rc.User.UserID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read user meta %q: %w", path, err)
	}
	return value, nil
}

func (r *Resolver) resolveCallback(ctx context.Context, path string, rc *RuntimeContext) (interface{}, error) {
	name, arg := path, ""
	if open := strings.IndexByte(path, '('); open >= 0 && strings.HasSuffix(path, ")") {
		name = path[:open]
		arg = path[open+1 : len(path)-1]
	}
	fn, ok := rc.Callbacks[name]
	if !ok {
		return nil, nil
	}
	value, err := fn(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("callback %q failed: %w", name, err)
	}
	return value, nil
}

func resolveDatetime(path string, rc *RuntimeContext) interface{} {
	now := rc.now()
	switch path {
	case "timestamp", "unix":
		return now.Unix()
	case "date":
		return now.Format("2006-01-02")
	case "time":
		return now.Format("15:04:05")
	case "datetime", "iso", "":
		return now.Format("2006-01-02T15:04:05Z07:00")
	case "year":
		return now.Year()
	case "month":
		return int(now.Month())
	case "day":
		return now.Day()
	case "hour":
		return now.Hour()
	case "minute":
		return now.Minute()
	case "weekday":
		return strings.ToLower(now.Weekday().String())
	default:
		// Anything else is treated as a Go time layout.
		return now.Format(path)
	}
}

func resolveQuery(path string, rc *RuntimeContext) interface{} {
	if rc.Request == nil {
		return nil
	}
	values := rc.Request.URL.Query()
	if !values.Has(path) {
		return nil
	}
	return values.Get(path)
}

func resolvePost(path string, rc *RuntimeContext) interface{} {
	if rc.Request == nil {
		return nil
	}
	if rc.Request.PostForm == nil {
		// ParseForm is idempotent; ignore body parse errors for non-form requests.
		_ = rc.Request.ParseForm()
	}
	if _, ok := rc.Request.PostForm[path]; !ok {
		return nil
	}
	return rc.Request.PostForm.Get(path)
}

func resolveCookie(path string, rc *RuntimeContext) interface{} {
	if rc.Request == nil {
		return nil
	}
	cookie, err := rc.Request.Cookie(path)
	if err != nil {
		return nil
	}
	return cookie.Value
}

func resolveServer(path string, rc *RuntimeContext) interface{} {
	if v := dig(rc.Server, path); v != nil {
		return v
	}
	if rc.Request == nil {
		return nil
	}
	switch strings.ToLower(path) {
	case "request_method", "method":
		return rc.Request.Method
	case "request_uri", "uri":
		return rc.Request.URL.RequestURI()
	case "http_host", "host":
		return rc.Request.Host
	case "remote_addr":
		if host, _, err := net.SplitHostPort(rc.Request.RemoteAddr); err == nil {
			return host
		}
		return rc.Request.RemoteAddr
	case "http_user_agent", "user_agent":
		return rc.Request.UserAgent()
	case "http_referer", "referer":
		return rc.Request.Referer()
	default:
		return nil
	}
}

// dig walks a nested map by dot-separated path segments
func dig(source map[string]interface{}, path string) interface{} {
	if source == nil || path == "" {
		return nil
	}
	var current interface{} = source
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}
