/*
Package engine wires the layer engine into one process.

An Engine owns the event broker, the layer manager, the action dispatcher,
the undo buffer, the provenance log and the action registry, plus the two
databases under the data directory:

	<data_dir>/stratum.db          checkpoints, undo records, layer catalog
	<data_dir>/provenance.sqlite   provenance steps

# Lifecycle

New opens the stores and builds the services. Start loads the provenance
log, restores the saved project when Persist is set (layers, id counters,
active layer and the undo buffer), then starts the dispatcher, the metrics
collector and, when HTTPAddr is set, the pkg/api server. The project is
restored before the dispatcher runs, so no action ever sees a half loaded
registry.

Shutdown stops the HTTP server, cancels running provenance replays, saves
the project between two dispatched actions and closes the stores. Layers
whose filter has not produced data yet are not saved.

# Running actions

Run parses one command line, dispatches it with the script source and waits
for its asynchronous result. RunScript does the same for every step of a
YAML Script:

	apiVersion: stratum/v1
	kind: Script
	metadata:
	  name: segment
	spec:
	  actions:
	    - action: CreateLayer
	      params:
	        name: base
	        dims: 64,64,32
	    - command: Threshold target='layer_1' lower='0.5' upper='1'

Every dispatched action is published on the broker as action.completed or
action.failed.

# Configuration

Config is read from YAML by LoadConfig over DefaultConfig:

	data_dir: ./stratum-data
	log_level: info
	json_logs: false
	user: alice
	undo_max_items: 100
	undo_max_bytes: 1073741824
	http_addr: 127.0.0.1:9090
	collector_interval: 15s
	persist: true
	autosave_interval: 30s
*/
package engine
