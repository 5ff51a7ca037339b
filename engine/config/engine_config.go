package engine_config

// Alias is named scenario of REPL words, e.g. alias "warmup" { scenario = "run stream=on s500" }
type Alias struct {
	Name     string `hcl:"name,key"`
	Scenario string `hcl:"scenario"`
}

type Config struct {
	Aliases []Alias  `hcl:"alias"`
	OnStart []string `hcl:"on_start"`
}
