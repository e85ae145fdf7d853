// Package imagecache keeps downloaded covers, pictures, faces and
// screenshots on disk, indexed by an LRU so the directory stays bounded.
package imagecache
