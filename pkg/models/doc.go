// Package models holds the shared data types.
package models
