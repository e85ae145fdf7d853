// Package screenshot captures dynamics as images with a headless browser.
package screenshot
