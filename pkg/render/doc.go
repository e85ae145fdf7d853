// Package render turns feed items into chat messages using {slot} templates.
package render
