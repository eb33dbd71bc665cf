// Package prompts is the response resolver: it maps the stable response
// keys produced by the dialogue engine to spoken prompt text, filling in
// caller slots such as name and phone. Audio for each key is produced
// outside this service.
package prompts
