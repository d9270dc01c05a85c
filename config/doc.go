// Package config loads the service configuration and wires a pipeline
// from it.
//
// Settings come from a YAML file overlaid on Default; secrets come only
// from the environment (see Secrets):
//
//	git:
//	  repository_url: https://git.example.com/catalog/definitions.git
//	  repository_local_dir: /var/lib/defsync/checkout
//	downloader:
//	  update_interval: 5m
//	  download_retry_count: 5
//	  download_retry_interval: 10s
//	output:
//	  queue: definitions
//	  publish_failure: soft
//
// Durations accept Go notation ("30s") or plain integers read as seconds.
// Build turns a validated Config into a running Service; the output sink is
// looked up by name in a Registry so other sinks can be registered.
package config
