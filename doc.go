// Package penpal is a static blog written by email.
//
// A post starts as a message whose subject begins with a secret token, as in
//
//	Subject: [TOKEN-s3cret] A Walk in the Hills
//
// The edge receiver (package inbound) accepts the message over HTTP or SMTP,
// checks the token and triggers a GitHub repository_dispatch event carrying
// the raw message. The CI job that handles the event runs the pipeline
// (package pipeline), which parses the message (package mail), converts its
// body to Markdown with YAML front matter (package convert) and writes the
// post, its attachments and its thread index to flat files (package post).
// The new files may be committed and pushed (package publish). Finally the
// site renderer (package site) turns the stored posts into static HTML.
//
// Replies are grouped into threads. A reply carries the message id of the
// first post in its References header, and every post sharing that root is
// listed in one thread index, which the site shows as a numbered series.
//
// The penpal command in cmd/penpal ties these together:
//
//	penpal serve            # receive email and trigger CI
//	penpal process msg.eml  # store one message as a post
//	penpal build --watch    # render the site, rebuilding on change
//
// Configuration is read from penpal.yaml, PENPAL_* environment variables and
// command line flags (package config).
package penpal
