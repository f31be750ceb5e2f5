// Package tgui has small Telegram UI helpers: inline keyboards, callback
// data in "ns:action:payload" form, an HTML-escaping message builder and
// list pagination.
package tgui
