// Package migrations は SQLite ストアのマイグレーションSQLを埋め込む
package migrations

import "embed"

// FS はコンパイル時に埋め込んだマイグレーションファイル
//
//go:embed *.sql
var FS embed.FS
