package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide prints how to copy the login cookies out of a browser
func WriteCookieGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	lines := []string{
		rule,
		"BILIBILI COOKIE GUIDE",
		rule,
		"",
		"bilisub reads the public feeds of the users you subscribe to. Some",
		"endpoints answer with code -352 or -412 unless the request carries a",
		"logged in session, so store the cookies of a (secondary) account.",
		"",
		"1. Log in at https://www.bilibili.com",
		"2. Open Developer Tools (F12) and go to Application > Cookies",
		"   (Storage > Cookies in Firefox), then select https://www.bilibili.com",
		"3. Copy the values of:",
		"     SESSDATA     long string containing %2C",
		"     bili_jct     32 hex characters",
		"     DedeUserID   your numeric uid",
		"     buvid3       optional, set by the home page",
		"",
		"Alternatively copy the whole 'Cookie:' request header from the",
		"Network tab and paste it when asked.",
		"",
		"SESSDATA grants full access to the account. Never share it.",
		rule,
		"",
	}
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}
