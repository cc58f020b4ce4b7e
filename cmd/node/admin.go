package main

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/deposit"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/partition"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/process"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/topology"
)

func (n *node) routes() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/status", n.handleStatus)
	g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(n.reg, promhttp.HandlerOpts{})))
	g.POST("/shutdown", n.handleShutdown)

	g.GET("/box", func(c *gin.Context) { c.JSON(http.StatusOK, n.box.Stats()) })
	g.GET("/box/keys", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"keys": n.box.FilledKeys()}) })
	g.DELETE("/box/keys/:key", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"incinerated": n.box.IncinerateKey(c.Param("key"))})
	})
	g.POST("/box/clean", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"incinerated": n.box.CleanHouse(time.Now())})
	})

	g.POST("/handling/pause", func(c *gin.Context) {
		n.server.PauseHandling()
		c.JSON(http.StatusOK, gin.H{"handling": n.server.IsHandling()})
	})
	g.POST("/handling/resume", func(c *gin.Context) {
		n.server.ResumeHandling()
		c.JSON(http.StatusOK, gin.H{"handling": n.server.IsHandling()})
	})

	g.GET("/topology", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"groups": n.topo.Groups()}) })
	g.GET("/topology/:group", n.handleResolve)

	g.GET("/partition/:key", n.handlePartition)
	g.DELETE("/partition/:key", n.handleForget)

	g.POST("/probe/:group", n.handleProbe)
	return g
}

func (n *node) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server":     n.server.Stats(),
		"box":        n.box.Stats(),
		"generation": n.parts.Generation(),
		"probes":     n.probes.Len(),
		"uptime":     time.Since(n.startedAt).String(),
	})
}

func (n *node) handleShutdown(c *gin.Context) {
	delay, err := time.ParseDuration(c.DefaultQuery("delay", "1s"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n.server.RequestShutdown(delay)
	c.JSON(http.StatusAccepted, gin.H{"delay": delay.String()})
}

func (n *node) handleResolve(c *gin.Context) {
	addrs, err := n.topo.Resolve(c.Request.Context(), c.Param("group"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, topology.ErrUnknownGroup) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	c.JSON(http.StatusOK, gin.H{"group": c.Param("group"), "nodes": out})
}

func (n *node) handlePartition(c *gin.Context) {
	rec, err := n.parts.Record(c.Request.Context(), c.Param("key"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, partition.ErrNoFunction) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "record": rec})
}

func (n *node) handleForget(c *gin.Context) {
	if err := n.parts.Forget(c.Request.Context(), c.Param("key")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type probeNode struct {
	Node   string       `json:"node"`
	Report *ProbeReport `json:"report,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// handleProbe fans a Probe out to a node group and waits for the reports.
// Passing the same tag again continues that probe.
func (n *node) handleProbe(c *gin.Context) {
	probe := &Probe{Group: c.Param("group"), Tag: c.Query("tag")}
	if probe.Tag == "" {
		probe.Tag = gonanoid.Must(8)
	}
	h, err := n.probes.Submit(c.Request.Context(), probe)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var die atomic.Bool
	stop := context.AfterFunc(c.Request.Context(), func() { die.Store(true) })
	defer stop()
	results := h.RunUntilDone(50*time.Millisecond, &die)

	if err := h.Err(); err != nil && !errors.Is(err, process.ErrKilled) {
		status := http.StatusBadGateway
		if errors.Is(err, topology.ErrUnknownGroup) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error(), "tag": probe.Tag})
		return
	}

	done, toBe := process.CompletionRatio(results)
	c.JSON(http.StatusOK, gin.H{
		"tag":      probe.Tag,
		"state":    h.State().String(),
		"done":     done,
		"to_be":    toBe,
		"nodes":    probeNodes(results),
		"took":     h.ProcessingTime().String(),
		"complete": len(results) > 0 && results[0].Complete(),
	})
}

func probeNodes(results []deposit.TransactionResult) []probeNode {
	var out []probeNode
	for _, r := range results {
		for _, addr := range r.Nodes {
			key := addr.String()
			pn := probeNode{Node: key}
			if w, ok := r.Withdrawals[key]; ok && !w.Failed() {
				pn.Report, _ = w.Contents.(*ProbeReport)
			}
			if err, ok := r.Errors[key]; ok {
				pn.Error = err.Error()
			}
			out = append(out, pn)
		}
	}
	return out
}
