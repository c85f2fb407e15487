// Package sf deduplicates concurrent calls that share a key.
//
// Only one call per key is in flight at a time. Callers arriving while it
// runs wait for it and receive the same result.
//
//	var g sf.Group[string]
//	id, err := g.Do(email, func() (string, error) {
//	    return lookup(ctx, email)
//	})
package sf
