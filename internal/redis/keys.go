package redisx

import "fmt"

const ns = "reservo:v1"

// KeyGeneration holds the generation counter of a cache tag.
func KeyGeneration(tag string) string {
	return fmt.Sprintf("%s:gen:%s", ns, tag)
}

// KeyView addresses a cached payload computed under generation gen of tag.
func KeyView(tag string, gen uint64, key string) string {
	return fmt.Sprintf("%s:view:%s:g%d:%s", ns, tag, gen, key)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdempotency(scope, key string) string {
	return fmt.Sprintf("%s:idem:%s:%s", ns, scope, key)
}

func ChannelInvalidations() string {
	return ns + ":cache:invalidated"
}
