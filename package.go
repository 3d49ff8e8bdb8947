// Comfyjob is a Go client core for a remote node-graph diffusion executor.
// It turns a declarative image-generation request into a typed job graph
// (graphapi), submits it and waits for the job while telling transient
// failures from fatal ones (client), and fetches the resulting image
// (service). The examples directory holds small CLI drivers.
package comfyjob
