package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Gatherr/internal/settings"
)

// serviceParam resolves the :service path parameter. Responds with 404 and
// returns false for names outside the known service set.
func serviceParam(c *gin.Context) (settings.Service, bool) {
	name := c.Param("service")
	if !settings.IsValidService(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrMsgUnknownService})
		return "", false
	}
	return settings.Service(name), true
}

// serviceSettingsView is the per-service payload: the redacted record plus
// the last observed connection state.
type serviceSettingsView struct {
	Service    settings.Service         `json:"service"`
	Settings   settings.Record          `json:"settings"`
	Configured bool                     `json:"configured"`
	Connection settings.ConnectionState `json:"connection"`
}

func (s *RESTServer) serviceView(service settings.Service) serviceSettingsView {
	return serviceSettingsView{
		Service:    service,
		Settings:   s.store.Get(service).Redacted(),
		Configured: s.store.IsConfigured(service),
		Connection: s.store.State(service),
	}
}

func (s *RESTServer) getAllSettings(c *gin.Context) {
	views := make([]serviceSettingsView, 0, len(settings.AllServices()))
	for _, service := range settings.AllServices() {
		views = append(views, s.serviceView(service))
	}
	c.JSON(http.StatusOK, views)
}

func (s *RESTServer) getServiceSettings(c *gin.Context) {
	service, ok := serviceParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.serviceView(service))
}

func (s *RESTServer) updateServiceSettings(c *gin.Context) {
	service, ok := serviceParam(c)
	if !ok {
		return
	}

	var patch settings.Patch
	if err := c.BindJSON(&patch); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	if _, err := s.store.Update(service, patch); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	c.JSON(http.StatusOK, s.serviceView(service))
}

func (s *RESTServer) resetServiceSettings(c *gin.Context) {
	service, ok := serviceParam(c)
	if !ok {
		return
	}

	if err := s.store.Reset(service); err != nil {
		respondDatabaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Settings reset", "service": service})
}

func (s *RESTServer) resetAllSettings(c *gin.Context) {
	if err := s.store.ResetAll(); err != nil {
		respondDatabaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All settings reset"})
}

func (s *RESTServer) getConnections(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.AllStates())
}

func (s *RESTServer) testConnection(c *gin.Context) {
	service, ok := serviceParam(c)
	if !ok {
		return
	}

	result, err := s.tester.Test(c.Request.Context(), service)
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, ErrMsgInternalError, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *RESTServer) testAllConnections(c *gin.Context) {
	results := s.tester.TestAll(c.Request.Context())
	c.JSON(http.StatusOK, results)
}
