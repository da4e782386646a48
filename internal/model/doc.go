// Package model loads the emotion network and runs inference on it.
//
// A network is a [Topology] (YAML, builtin default rafdb-v1) plus a weights
// file. The native backend reads safetensors; the onnx backend reads an
// exported graph whose first input is [1,H,W,C] float32 and whose first
// output is the softmax over the classes.
//
// # Weights layout
//
// Tensors are named "<layer>.<param>" after the topology layer names, which
// follow Keras' default naming (conv2d, conv2d_1, batch_normalization, dense_2,
// ...). Each layer type expects:
//
//	conv2d      <name>.kernel [k, k, in_channels, filters], <name>.bias [filters]
//	batch_norm  <name>.gamma, <name>.beta, <name>.moving_mean, <name>.moving_variance [channels]
//	dense       <name>.kernel [in_units, units], <name>.bias [units]
//
// Kernels keep Keras' HWIO and (in, out) orientation, and flatten runs in
// height, width, channel order, so no transposition is needed. Dtypes F32
// and F64 are accepted. Tensors no layer reads are reported by
// [Network.Ignored] and otherwise skipped.
//
// # Converting a Keras .h5 model
//
// Load the model in Python and write each layer's weights under the names
// above, for example:
//
//	import tensorflow as tf
//	from safetensors.numpy import save_file
//
//	m = tf.keras.models.load_model("rafdb_model.h5")
//	out = {}
//	for layer in m.layers:
//	    for w in layer.weights:
//	        param = w.name.split("/")[-1].split(":")[0]
//	        out[f"{layer.name}.{param}"] = w.numpy().astype("float32")
//	save_file(out, "rafdb_model.safetensors")
//
// Then check the result with "classify --validate --weights rafdb_model.safetensors".
package model
