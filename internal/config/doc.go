// Package config loads syncore server configuration.
//
// The configuration is stored in syncore.json and read with viper, so
// every key can be overridden by an environment variable named after its
// path: SYNCORE_SERVER_ADDRESS, SYNCORE_PUSH_MODE, SYNCORE_LOG_LEVEL and
// so on. Durations are strings such as "30s" or "5m".
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "address": ":8080",
//	    "allowedOrigins": ["https://app.example.com"],
//	    "messageRate": 50,
//	    "messageBurst": 100
//	  },
//	  "push": {
//	    "mode": "automatic",
//	    "transport": "websocket",
//	    "heartbeatInterval": "1m",
//	    "heartbeatTimeout": "5m"
//	  },
//	  "bundles": {
//	    "source": "dir",
//	    "dir": "./bundles",
//	    "cacheSize": 64,
//	    "list": [
//	      {"name": "widgets", "identifiers": ["demo.Button", "demo.Label"]}
//	    ]
//	  },
//	  "metrics": {"enabled": true, "address": ":9090"},
//	  "log": {"level": "info", "format": "json"}
//	}
//
// # Usage
//
//	cfg, err := config.Load("syncore.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := server.New(manager, cfg.ServerOptions())
package config
