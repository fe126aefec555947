package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fixit/internal/auth"
	"fixit/internal/cloudinary"
	"fixit/internal/complaint"
	"fixit/internal/config"
	"fixit/internal/httpmiddleware"
	"fixit/internal/mailer"
	"fixit/internal/otp"
	"fixit/internal/queue"
	"fixit/internal/store"
	"fixit/internal/user"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	var redisClient *store.Redis
	var otpStore otp.Store
	if cfg.RedisAddr != "" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		otpStore = otp.NewRedisStore(redisClient.Client, "fixit:otp")
	} else {
		log.Println("REDIS_ADDR empty, pending codes are process-local")
		otpStore = otp.NewMemoryStore()
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" || redisClient == nil {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "fixit:notifications")
	}

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudName != "" && cfg.CloudAPIKey != "" && cfg.CloudAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudName, cfg.CloudAPIKey, cfg.CloudAPISecret, cfg.CloudFolder)
		log.Println("Cloudinary configured:", cfg.CloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	mail := mailer.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	verifier := otp.NewVerifier(otpStore, cfg.RegisterOTPTTL, cfg.ResetOTPTTL)

	users := user.NewService(user.NewPostgresRepository(db.Client), verifier, mail)

	var blobs complaint.BlobStore
	if cdnClient != nil {
		blobs = cdnClient
	}
	complaints := complaint.NewService(complaint.NewPostgresRepository(db.Client), blobs, q)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.Default())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// OTP requests get a tighter per-IP budget than the global limiter.
	otpLimit := httpmiddleware.NewSimpleTokenBucket(5, 5).GinMiddleware()

	r.POST("/api/send-otp", otpLimit, func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := users.RequestSignupCode(c.Request.Context(), req.Email); err != nil {
			if errors.Is(err, user.ErrAlreadyRegistered) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Email already registered!"})
				return
			}
			log.Printf("send-otp failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Email failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "OTP Sent"})
	})

	r.POST("/api/register", func(c *gin.Context) {
		var req struct {
			Fullname   string `json:"fullname" binding:"required"`
			RegNo      string `json:"regNo"`
			Department string `json:"department"`
			Email      string `json:"email" binding:"required"`
			Password   string `json:"password" binding:"required"`
			OTP        string `json:"otp" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_, err := users.Register(c.Request.Context(), user.Signup{
			Fullname:   req.Fullname,
			RegNo:      req.RegNo,
			Department: req.Department,
			Email:      req.Email,
			Password:   req.Password,
		}, req.OTP)
		if err != nil {
			c.JSON(otpStatus(err), gin.H{"error": otpMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Success"})
	})

	r.POST("/api/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
			return
		}
		u, err := users.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, user.ErrBadCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
		tokens, err := auth.Issue(u.Email, u.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":      "Login Successful",
			"access_token": tokens.AccessToken,
			"expires_at":   tokens.AccessExp.Unix(),
			"user": gin.H{
				"fullname": u.Fullname,
				"regNo":    u.RegNo,
				"email":    u.Email,
				"role":     u.Role,
			},
		})
	})

	r.POST("/api/forgot-password", otpLimit, func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := users.RequestResetCode(c.Request.Context(), req.Email); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Email not found"})
				return
			}
			log.Printf("forgot-password failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Email failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Reset code sent"})
	})

	r.POST("/api/reset-password", func(c *gin.Context) {
		var req struct {
			Email       string `json:"email" binding:"required"`
			OTP         string `json:"otp" binding:"required"`
			NewPassword string `json:"newPassword" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := users.ResetPassword(c.Request.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
			c.JSON(otpStatus(err), gin.H{"error": otpMessage(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
	})

	r.POST("/api/submit", func(c *gin.Context) {
		var req struct {
			Fullname    string  `json:"fullname" binding:"required"`
			Email       string  `json:"email" binding:"required"`
			RegNo       string  `json:"regNo"`
			Category    string  `json:"category" binding:"required"`
			Location    string  `json:"location"`
			Description string  `json:"description" binding:"required"`
			ImageRef    *string `json:"imageRef"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		saved, err := complaints.Submit(c.Request.Context(), complaint.Submission{
			Fullname:    req.Fullname,
			Email:       req.Email,
			RegNo:       req.RegNo,
			Category:    req.Category,
			Location:    req.Location,
			Description: req.Description,
			ImageRef:    req.ImageRef,
		})
		if err != nil {
			if errors.Is(err, complaint.ErrMissingFields) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Printf("submit failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Success", "complaintId": saved.ComplaintID})
	})

	r.GET("/api/my-complaints", func(c *gin.Context) {
		email := c.Query("email")
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email is required"})
			return
		}
		mine, err := complaints.MyComplaints(c.Request.Context(), email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch complaints"})
			return
		}
		c.JSON(http.StatusOK, mine)
	})

	r.GET("/api/complaints/:id", func(c *gin.Context) {
		found, err := complaints.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		if found == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Complaint not found"})
			return
		}
		c.JSON(http.StatusOK, found)
	})

	authed := r.Group("/api", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authed.POST("/upload", func(c *gin.Context) {
		if cdnClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}

		contentType := c.ContentType()
		var result *cloudinary.UploadResult
		var err error

		switch {
		case strings.Contains(contentType, "multipart/form-data"):
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = cdnClient.UploadBytes(data, header.Filename)

		default:
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = cdnClient.UploadBase64(body.Data)
		}

		if err != nil {
			log.Printf("cloudinary upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ref":   result.PublicID,
			"url":   result.SecureURL,
			"bytes": result.Bytes,
		})
	})

	authed.POST("/faculty-reply", auth.RequireRole(user.RoleFaculty, user.RoleAdmin), func(c *gin.Context) {
		var req struct {
			ComplaintID string `json:"complaintId" binding:"required"`
			Reply       string `json:"reply" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := complaints.FacultyReply(c.Request.Context(), req.ComplaintID, req.Reply); err != nil {
			c.JSON(complaintStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Reply saved"})
	})

	admin := authed.Group("", auth.RequireRole(user.RoleAdmin))

	admin.GET("/complaints", func(c *gin.Context) {
		all, err := complaints.All(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch complaints"})
			return
		}
		c.JSON(http.StatusOK, all)
	})

	admin.POST("/forward-complaint", func(c *gin.Context) {
		var req struct {
			ComplaintID  string `json:"complaintId" binding:"required"`
			TeacherEmail string `json:"teacherEmail" binding:"required"`
			AdminNote    string `json:"adminNote"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := complaints.Forward(c.Request.Context(), req.ComplaintID, req.TeacherEmail, req.AdminNote); err != nil {
			c.JSON(complaintStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	admin.POST("/admin-reply", func(c *gin.Context) {
		var req struct {
			ComplaintID string `json:"complaintId" binding:"required"`
			Reply       string `json:"reply"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updated, err := complaints.AdminReply(c.Request.Context(), req.ComplaintID, req.Reply, time.Time{})
		if err != nil {
			c.JSON(complaintStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, updated)
	})

	admin.POST("/status", func(c *gin.Context) {
		var req struct {
			ComplaintID string `json:"complaintId" binding:"required"`
			Status      string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := complaints.SetStatus(c.Request.Context(), req.ComplaintID, req.Status); err != nil {
			c.JSON(complaintStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Status updated"})
	})

	admin.DELETE("/complaints/:id", func(c *gin.Context) {
		if err := complaints.Delete(c.Request.Context(), c.Param("id")); err != nil {
			switch {
			case errors.Is(err, complaint.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Complaint not found"})
			case errors.Is(err, complaint.ErrImageCleanup):
				// Record is gone; only the image release failed.
				c.JSON(http.StatusOK, gin.H{"message": "Deleted, image cleanup pending"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete complaint"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
	})

	admin.DELETE("/complaints", func(c *gin.Context) {
		if err := complaints.DeleteAll(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear complaints"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "All complaints deleted"})
	})

	admin.GET("/users", func(c *gin.Context) {
		students, err := users.ListStudents(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
			return
		}
		c.JSON(http.StatusOK, students)
	})

	admin.DELETE("/users/:id", func(c *gin.Context) {
		if err := users.Delete(c.Request.Context(), c.Param("id")); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// otpStatus maps verification and account errors to HTTP codes.
func otpStatus(err error) int {
	switch {
	case errors.Is(err, otp.ErrNoPendingRequest),
		errors.Is(err, otp.ErrExpired),
		errors.Is(err, otp.ErrMismatch),
		errors.Is(err, user.ErrMissingFields):
		return http.StatusBadRequest
	case errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func otpMessage(err error) string {
	switch {
	case errors.Is(err, otp.ErrNoPendingRequest),
		errors.Is(err, otp.ErrExpired),
		errors.Is(err, otp.ErrMismatch):
		return "Invalid OTP"
	case errors.Is(err, user.ErrMissingFields):
		return "Missing required fields"
	case errors.Is(err, user.ErrNotFound):
		return "Email not found"
	default:
		return "Server Error"
	}
}

func complaintStatus(err error) int {
	switch {
	case errors.Is(err, complaint.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, complaint.ErrEmptyReply), errors.Is(err, complaint.ErrMissingFields):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
