// Package tgui has small helpers for Telegram HTML messages and inline
// keyboards built on the transport types.
package tgui
