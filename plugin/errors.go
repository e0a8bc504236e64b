package plugin

import "errors"

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when no discovered plugin has the class name.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrInvalidManifest is returned when a plugin source does not define a usable Plugin table.
	ErrInvalidManifest = errors.New("invalid plugin manifest")

	// ErrSandboxClosed is returned when calling into a plugin that was unloaded.
	ErrSandboxClosed = errors.New("plugin sandbox is closed")

	// ErrTimeout is returned when plugin code runs longer than MaxExecutionTime.
	ErrTimeout = errors.New("plugin execution timed out")
)
