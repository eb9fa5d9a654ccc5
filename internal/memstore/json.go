package memstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JSON operations are a client-side layer over string storage. They are NOT
// atomic across concurrent writers: a JSONSet is read-modify-write on the
// whole document. Callers that need atomic mutation of a JSON document must
// hold a distributed lock around it.

// normalizeJSONPath strips an optional leading "$." / "$" and reports
// whether the path addresses the document root.
func normalizeJSONPath(path string) (string, bool) {
	path = strings.TrimSpace(path)
	if path == "" || path == "$" {
		return "", true
	}
	path = strings.TrimPrefix(path, "$.")
	return path, path == ""
}

// JSONGet traverses the stored document by dot path. Traversal across a
// non-container segment returns found=false, never an error. Root path
// returns the whole document.
func (c *Client) JSONGet(ctx context.Context, key, path string) (string, bool, error) {
	doc, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return "", false, err
	}

	p, root := normalizeJSONPath(path)
	if root {
		return doc, true, nil
	}
	result := gjson.Get(doc, p)
	if !result.Exists() {
		return "", false, nil
	}
	return result.Raw, true, nil
}

// JSONSet writes raw JSON at the dot path, creating intermediate containers
// as needed. A root path replaces the whole document. Writing through a
// non-container intermediate node is an error; the source system silently
// re-rooted the node, losing data.
func (c *Client) JSONSet(ctx context.Context, key, path, rawValue string, ttl time.Duration) error {
	if !gjson.Valid(rawValue) {
		return fmt.Errorf("json set %s: value is not valid JSON", key)
	}

	p, root := normalizeJSONPath(path)
	if root {
		return c.Set(ctx, key, rawValue, ttl)
	}

	doc, found, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		doc = "{}"
	}

	if err := checkContainerPath(doc, p); err != nil {
		return fmt.Errorf("json set %s: %w", key, err)
	}

	updated, err := sjson.SetRaw(doc, p, rawValue)
	if err != nil {
		return fmt.Errorf("json set %s at %s: %w", key, path, err)
	}
	return c.Set(ctx, key, updated, ttl)
}

// JSONDelete removes the value at the dot path, reporting whether anything
// was removed. A root path deletes the key itself.
func (c *Client) JSONDelete(ctx context.Context, key, path string) (bool, error) {
	p, root := normalizeJSONPath(path)
	if root {
		n, err := c.Delete(ctx, key)
		return n > 0, err
	}

	doc, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if !gjson.Get(doc, p).Exists() {
		return false, nil
	}

	updated, err := sjson.Delete(doc, p)
	if err != nil {
		return false, fmt.Errorf("json delete %s at %s: %w", key, path, err)
	}
	// Preserve the remaining TTL rather than resetting to the default.
	ttl, terr := c.TTL(ctx, key)
	if terr != nil || ttl <= 0 {
		ttl = c.defaultTTL
	}
	return true, c.Set(ctx, key, updated, ttl)
}

// checkContainerPath walks the existing document along the path and errors
// when an intermediate segment is present but not a container.
func checkContainerPath(doc, path string) error {
	segments := strings.Split(path, ".")
	for i := range segments[:len(segments)-1] {
		prefix := strings.Join(segments[:i+1], ".")
		node := gjson.Get(doc, prefix)
		if !node.Exists() {
			return nil // sjson will create the missing containers
		}
		if !node.IsObject() && !node.IsArray() {
			return fmt.Errorf("path segment %q is not a container", prefix)
		}
	}
	return nil
}
