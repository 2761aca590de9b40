// Package infra contains the technical adapters of the dispatch engine:
// stores, notifier transports, audit backends, the staff directory file and
// metrics exporters. These packages depend only on the interfaces defined in
// the core packages.
package infra
