// Package catalog records accepted audio clips in a SQLite database so the
// publisher and later tooling can find when and on which frequency each clip
// was captured, and attaches transcripts once they appear.
package catalog
