package classify

import "github.com/qbit-ai/qbit/internal/pty"

var zshBuiltins = []string{
	"alias", "autoload", "bg", "bindkey", "builtin", "cd", "command", "compdef",
	"declare", "dirs", "disown", "echo", "emulate", "eval", "exec", "exit",
	"export", "false", "fc", "fg", "functions", "hash", "history", "jobs",
	"kill", "let", "local", "logout", "popd", "print", "printf", "pushd",
	"pwd", "read", "readonly", "return", "set", "setopt", "shift", "source",
	"suspend", "test", "times", "trap", "true", "type", "typeset", "ulimit",
	"umask", "unalias", "unset", "unsetopt", "wait", "whence", "where", "which",
}

var bashBuiltins = []string{
	"alias", "bg", "bind", "break", "builtin", "caller", "cd", "command",
	"compgen", "complete", "continue", "declare", "dirs", "disown", "echo",
	"enable", "eval", "exec", "exit", "export", "false", "fc", "fg", "getopts",
	"hash", "help", "history", "jobs", "kill", "let", "local", "logout",
	"popd", "printf", "pushd", "pwd", "read", "readonly", "return", "set",
	"shift", "shopt", "source", "suspend", "test", "times", "trap", "true",
	"type", "typeset", "ulimit", "umask", "unalias", "unset", "wait",
}

var fishBuiltins = []string{
	"and", "begin", "bg", "bind", "block", "break", "breakpoint", "builtin",
	"case", "cd", "command", "commandline", "continue", "count", "disown",
	"echo", "else", "emit", "end", "eval", "exec", "exit", "fg", "for",
	"function", "functions", "history", "if", "jobs", "not", "or", "pwd",
	"read", "return", "set", "status", "string", "switch", "test", "true",
	"false", "type", "ulimit", "wait", "while",
}

var posixBuiltins = []string{
	"cd", "echo", "exit", "export", "pwd", "read", "set", "test", "true",
	"false", "type", "unset", "wait",
}

// builtins returns the static shell-builtin vocabulary for shellType.
func builtins(shellType pty.ShellType) []string {
	switch shellType {
	case pty.ShellZsh:
		return zshBuiltins
	case pty.ShellBash:
		return bashBuiltins
	case pty.ShellFish:
		return fishBuiltins
	default:
		return posixBuiltins
	}
}
