// Package auth stores Bilibili login cookies across several backends.
package auth
