package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPrefix namespaces keys built by the generic full-URL builder.
const DefaultPrefix = "cache"

// CacheKey is a namespaced key made of ordered name=value parts.
type CacheKey struct {
	// Prefix is the logical namespace (e.g. "products:list")
	Prefix string

	// Parts are rendered in order after the prefix
	Parts []KeyPart
}

// KeyPart is one name=value component of a key.
type KeyPart struct {
	Name  string
	Value string
}

// String renders the key.
// Format: prefix:name1=value1:name2=value2
//
// Example:
//
//	products:list:page=2:limit=20:category=shoes:sort=newest:status=active
func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString(k.Prefix)
	for _, p := range k.Parts {
		b.WriteByte(':')
		b.WriteString(p.Name)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Param is a content-affecting query parameter of a named builder.
type Param struct {
	// Name is the query parameter name
	Name string

	// Default is used when the parameter is missing or blank
	Default string

	// Normalize canonicalises the raw value; an empty result means "use
	// Default"
	Normalize func(string) string
}

// KeySpec declares a named key builder.
type KeySpec struct {
	// Prefix is the key namespace, e.g. "products:list"
	Prefix string

	// Params are the only query parameters that affect the key, in key order
	Params []Param

	// Daily adds the current UTC calendar day so keys roll over daily
	Daily bool

	// ByPath adds the request path (detail views)
	ByPath bool

	// Identity, when set, adds the requesting principal (user-scoped views)
	Identity IdentityFunc

	// Category selects the TTL
	Category Category
}

// Key builds the key for r at time now.
func (s KeySpec) Key(r *http.Request, now time.Time) CacheKey {
	key := CacheKey{Prefix: s.Prefix}

	if s.Daily {
		key.Parts = append(key.Parts, KeyPart{Name: "day", Value: now.UTC().Format(time.DateOnly)})
	}
	if s.ByPath {
		key.Parts = append(key.Parts, KeyPart{Name: "path", Value: escape(r.URL.Path)})
	}
	if s.Identity != nil {
		key.Parts = append(key.Parts, KeyPart{Name: "principal", Value: escape(s.Identity(r))})
	}

	query := r.URL.Query()
	for _, p := range s.Params {
		v := strings.TrimSpace(query.Get(p.Name))
		if v != "" && p.Normalize != nil {
			v = p.Normalize(v)
		}
		if v == "" {
			v = p.Default
		}
		key.Parts = append(key.Parts, KeyPart{Name: p.Name, Value: escape(v)})
	}

	return key
}

// IdentityFunc returns an opaque identifier of the caller of r.
type IdentityFunc func(r *http.Request) string

// Anonymous is the identity of requests without credentials.
const Anonymous = "anonymous"

// Principal identifies the caller by its credentials: the Authorization
// header, or failing that the Cookie header. Only a digest of the
// credential ends up in the key. Callers sharing an address but not
// credentials never share an entry.
func Principal(r *http.Request) string {
	cred := r.Header.Get("Authorization")
	if cred == "" {
		cred = r.Header.Get("Cookie")
	}
	if cred == "" {
		return Anonymous
	}
	sum := sha256.Sum256([]byte(cred))
	return hex.EncodeToString(sum[:16])
}

// Pattern returns a glob matching every key of this builder.
func (s KeySpec) Pattern() string {
	return s.Prefix + ":*"
}

// escape keeps separators and glob metacharacters out of key values.
func escape(v string) string {
	return url.QueryEscape(v)
}

// PositiveInt normalises page/limit style values; invalid values fall back
// to the parameter default.
func PositiveInt(v string) string {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return ""
	}
	return strconv.Itoa(n)
}

// SearchTerm lower-cases and collapses whitespace.
func SearchTerm(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

// Lower lower-cases a value.
func Lower(v string) string {
	return strings.ToLower(v)
}

// Builder names for the marketplace hot paths.
const (
	BuilderProductList   = "products:list"
	BuilderProductSearch = "products:search"
	BuilderProductDetail = "products:detail"
	BuilderMerchantList  = "merchants:list"
	BuilderOrderList     = "orders:list"
	BuilderDailyDeals    = "deals:daily"
	BuilderCategories    = "categories:all"
)

func page() Param  { return Param{Name: "page", Default: "1", Normalize: PositiveInt} }
func limit() Param { return Param{Name: "limit", Default: "20", Normalize: PositiveInt} }

// DefaultSpecs returns the built-in named builders.
func DefaultSpecs() map[string]KeySpec {
	return map[string]KeySpec{
		BuilderProductList: {
			Prefix: BuilderProductList,
			Params: []Param{
				page(),
				limit(),
				{Name: "category", Default: "all", Normalize: Lower},
				{Name: "sort", Default: "newest", Normalize: Lower},
				{Name: "status", Default: "active", Normalize: Lower},
			},
			Category: CategoryListing,
		},
		BuilderProductSearch: {
			Prefix: BuilderProductSearch,
			Params: []Param{
				{Name: "q", Default: "none", Normalize: SearchTerm},
				page(),
				limit(),
				{Name: "category", Default: "all", Normalize: Lower},
				{Name: "min_price", Default: "none"},
				{Name: "max_price", Default: "none"},
			},
			Category: CategorySearch,
		},
		BuilderProductDetail: {
			Prefix:   BuilderProductDetail,
			ByPath:   true,
			Category: CategoryDetail,
		},
		BuilderMerchantList: {
			Prefix: BuilderMerchantList,
			Params: []Param{
				page(),
				limit(),
				{Name: "status", Default: "all", Normalize: Lower},
				{Name: "verified", Default: "all", Normalize: Lower},
			},
			Category: CategoryListing,
		},
		BuilderOrderList: {
			Prefix:   BuilderOrderList,
			Identity: Principal,
			Params: []Param{
				page(),
				limit(),
				{Name: "status", Default: "all", Normalize: Lower},
			},
			Category: CategoryListing,
		},
		BuilderDailyDeals: {
			Prefix: BuilderDailyDeals,
			Daily:  true,
			Params: []Param{
				page(),
				{Name: "category", Default: "all", Normalize: Lower},
			},
			Category: CategoryDaily,
		},
		BuilderCategories: {
			Prefix:   BuilderCategories,
			Category: CategoryStatic,
		},
	}
}

// Registry resolves builder names to keys.
type Registry struct {
	specs map[string]KeySpec
	now   func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock sets the clock used by time-scoped builders.
func WithClock(now func() time.Time) RegistryOption {
	return func(reg *Registry) {
		reg.now = now
	}
}

// WithSpec registers or replaces a named builder.
func WithSpec(name string, spec KeySpec) RegistryOption {
	return func(reg *Registry) {
		reg.specs[name] = spec
	}
}

// NewRegistry returns a registry holding DefaultSpecs plus any extra specs.
func NewRegistry(opts ...RegistryOption) *Registry {
	reg := &Registry{
		specs: DefaultSpecs(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(reg)
	}
	return reg
}

// Spec returns the named builder.
func (reg *Registry) Spec(name string) (KeySpec, bool) {
	s, ok := reg.specs[name]
	return s, ok
}

// BuildKey returns the cache key and data category for r. An empty or
// unknown builder name falls back to "cache:" + path and raw query.
func (reg *Registry) BuildKey(r *http.Request, name string) (string, Category) {
	if spec, ok := reg.specs[name]; ok && name != "" {
		return spec.Key(r, reg.now()).String(), spec.Category
	}
	return DefaultPrefix + ":" + r.URL.RequestURI(), CategoryDefault
}
